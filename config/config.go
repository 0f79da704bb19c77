// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DataverseConfig holds the CRM connection. All fields empty means the CRM is not wired.
type DataverseConfig struct {
	BaseURL      string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Enabled reports whether enough is set to talk to the CRM.
func (d DataverseConfig) Enabled() bool {
	return d.BaseURL != "" && d.TenantID != "" && d.ClientID != "" && d.ClientSecret != ""
}

// StorageConfig is the S3-compatible bucket (Cloudflare R2) used for statement exports.
type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

func (s StorageConfig) Enabled() bool {
	return s.AccountID != "" && s.AccessKeyID != "" && s.AccessKeySecret != "" && s.Bucket != ""
}

type Config struct {
	Port           string
	DatabaseURL    string
	ServiceToken   string
	JWTSecret      string
	DevMode        bool
	AllowedOrigins string
	LogMode        string
	AuditInterval  time.Duration
	SyncInterval   time.Duration

	Dataverse DataverseConfig
	Storage   StorageConfig
}

// Load reads .env (if present) and then the process environment.
// The returned bool is false when no .env file was found.
func Load() (*Config, bool, error) {
	foundDotenv := godotenv.Load() == nil

	cfg, err := FromEnv()
	return cfg, foundDotenv, err
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:           getenv("PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ServiceToken:   os.Getenv("SERVICE_TOKEN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: normalizeOrigins(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		LogMode:        getenv("LOG_MODE", "development"),
		Dataverse: DataverseConfig{
			BaseURL:      strings.TrimRight(os.Getenv("DATAVERSE_URL"), "/"),
			TenantID:     os.Getenv("DATAVERSE_TENANT_ID"),
			ClientID:     os.Getenv("DATAVERSE_CLIENT_ID"),
			ClientSecret: os.Getenv("DATAVERSE_CLIENT_SECRET"),
		},
		Storage: StorageConfig{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      strings.TrimRight(os.Getenv("CDN_BASE_URL"), "/"),
		},
	}

	var err error
	if cfg.DevMode, err = getbool("DEV_MODE", false); err != nil {
		return nil, err
	}
	if cfg.AuditInterval, err = getduration("AUDIT_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getduration("SYNC_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	if cfg.ServiceToken == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN environment variable not set")
	}
	if cfg.JWTSecret == "" && !cfg.DevMode {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set (required unless DEV_MODE=true)")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getbool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

// normalizeOrigins trims each comma-separated origin for fiber's CORS config.
func normalizeOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

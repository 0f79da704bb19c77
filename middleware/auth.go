// middleware/auth.go
package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// LocalUserID is the fiber.Ctx Locals key holding the authenticated student id.
	LocalUserID = "user_id"
	// LocalDevMode is set when the request was let through by the developer bypass.
	LocalDevMode = "dev_mode"

	DevUserHeader = "X-Dev-User-ID"
)

type UserAuthConfig struct {
	// JWTSecret verifies HS256 tokens issued by the identity provider.
	JWTSecret string
	// DevMode lets X-Dev-User-ID stand in for a token. Never enable in production.
	DevMode bool
	Log     *zap.Logger
}

// UserAuth resolves the student identity from a bearer JWT (`sub` claim) or, for
// EventSource clients that cannot set headers, a `token` query parameter.
func UserAuth(cfg UserAuthConfig) fiber.Handler {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *fiber.Ctx) error {
		if cfg.DevMode {
			if devUser := strings.TrimSpace(c.Get(DevUserHeader)); devUser != "" {
				c.Locals(LocalUserID, devUser)
				c.Locals(LocalDevMode, true)
				return c.Next()
			}
		}

		raw := bearerToken(c)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		if len(secret) == 0 {
			cfg.Log.Error("[USER_AUTH] token received but no JWT secret configured")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			cfg.Log.Debug("[USER_AUTH] token rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": msg,
			})
		}
		if claims.Subject == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(LocalUserID, claims.Subject)
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}

// UserID returns the student id set by UserAuth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

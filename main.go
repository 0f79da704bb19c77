package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imi-student-dashboard/config"
	"imi-student-dashboard/handlers"
	"imi-student-dashboard/logger"
	"imi-student-dashboard/middleware"
	"imi-student-dashboard/models"
	"imi-student-dashboard/services"
	"imi-student-dashboard/utils"
	"imi-student-dashboard/workers"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, foundDotenv, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	if !foundDotenv {
		zl.Warn("no .env file found, reading environment variables directly")
	}
	if cfg.DevMode {
		zl.Warn("DEV_MODE enabled: X-Dev-User-ID bypasses token validation")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}

	if err := db.AutoMigrate(
		&models.XPBalance{},
		&models.XPTransaction{},
		&models.Student{},
	); err != nil {
		zl.Fatal("failed to migrate database", zap.Error(err))
	}

	ledger := services.NewLedgerService(db, zl)

	var store services.ObjectStore
	if cfg.Storage.Enabled() {
		r2, err := utils.NewR2Store(ctx, cfg.Storage)
		if err != nil {
			zl.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		store = r2
	} else {
		zl.Warn("object storage not configured, statement export disabled")
	}
	statements := services.NewStatementService(ledger, store, zl)

	var crm services.ContactUpdater
	if cfg.Dataverse.Enabled() {
		dv := services.NewDataverseClient(ctx, cfg.Dataverse)
		crm = dv

		syncWorker := workers.NewStudentSyncWorker(db, dv, ledger, cfg.SyncInterval, zl)
		syncWorker.Start(ctx)
	} else {
		zl.Warn("dataverse not configured, student sync disabled and settings stored locally only")
	}
	settings := services.NewSettingsService(db, crm, zl)

	sched, err := ledger.StartAuditScheduler(ctx, cfg.AuditInterval)
	if err != nil {
		zl.Fatal("failed to start ledger audit scheduler", zap.Error(err))
	}

	app := handlers.NewApp(handlers.AppDeps{
		Ledger:     ledger,
		Statements: statements,
		Settings:   settings,

		ServiceToken: cfg.ServiceToken,
		UserAuth: middleware.UserAuthConfig{
			JWTSecret: cfg.JWTSecret,
			DevMode:   cfg.DevMode,
			Log:       zl,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            zl,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			zl.Error("server error", zap.Error(err))
			stop()
		}
	}()

	zl.Info("server running",
		zap.String("port", cfg.Port),
		zap.String("cors_origins", cfg.AllowedOrigins),
		zap.Duration("audit_interval", cfg.AuditInterval),
	)

	<-ctx.Done()
	zl.Info("shutting down server...")

	if err := sched.Shutdown(); err != nil {
		zl.Warn("scheduler shutdown failed", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		zl.Warn("server shutdown failed", zap.Error(err))
	}
}

package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"imi-student-dashboard/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// Logger returns a zap logger that writes through t.Log.
func Logger(tb testing.TB) *zap.Logger {
	tb.Helper()
	return zaptest.NewLogger(tb, zaptest.Level(zap.WarnLevel))
}

// DB opens a fresh, migrated in-memory SQLite database private to tb.
// A single connection is used so every statement sees the same memory database.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.XPBalance{}, &models.XPTransaction{}, &models.Student{}); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

// Balance inserts a zeroed bronze balance for userID.
func Balance(tb testing.TB, db *gorm.DB, userID string) *models.XPBalance {
	tb.Helper()
	bal := &models.XPBalance{UserID: userID, CurrentTier: models.TierBronze}
	if err := db.Create(bal).Error; err != nil {
		tb.Fatalf("failed to seed balance %q: %v", userID, err)
	}
	return bal
}

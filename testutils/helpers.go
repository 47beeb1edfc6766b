package testutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Epoch is the starting instant of every FakeClock.
var Epoch = time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)

// SetupTestDB opens a private in-memory sqlite database. The pool is pinned
// to one connection because every new sqlite connection to :memory: would
// see an empty database.
func SetupTestDB(t *testing.T, models ...any) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if len(models) > 0 {
		require.NoError(t, db.AutoMigrate(models...))
	}

	return db
}

func FakeClock() *clock.Fake {
	return clock.NewFake(Epoch)
}

// NewTestLogger returns a logger whose entries can be asserted on.
func NewTestLogger() (*logging.Service, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.FromZap(zap.New(core)), logs
}

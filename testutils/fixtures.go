package testutils

import (
	"time"

	"github.com/tech-arch1tect/tokenauth/config"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:    "tokenauth-test",
			Version: "test",
		},
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: "0",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
		Cache: config.CacheConfig{
			Driver:           "memory",
			OperationTimeout: time.Second,
			KeyPrefix:        "test:",
		},
		Circuit: config.CircuitConfig{
			FailureThreshold:       5,
			RecoveryTimeoutSeconds: 60,
			HalfOpenMaxCalls:       3,
			FallbackCacheMaxSize:   1000,
		},
		JWT: config.JWTConfig{
			Issuer:          "tokenauth-test",
			Audience:        "tokenauth-clients",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			Leeway:          5 * time.Second,
		},
		Keys: config.KeyConfig{
			RotationIntervalDays: 90,
			Size:                 2048,
			RotationGrace:        30 * 24 * time.Hour,
			RetiredRetention:     24 * time.Hour,
			CheckInterval:        time.Hour,
		},
		Session: config.SessionConfig{
			Retention:       7 * 24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		RateLimit: config.RateLimitConfig{
			Rate:      5,
			Period:    time.Minute,
			CountMode: "all",
		},
	}
}

var TestIdentities = struct {
	UserID   string
	TenantID string
	OrgID    string
}{
	UserID:   "u1",
	TenantID: "t1",
	OrgID:    "org-1",
}

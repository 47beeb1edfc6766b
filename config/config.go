package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig      `envPrefix:"APP_"`
	Server    ServerConfig   `envPrefix:"SERVER_"`
	Log       LogConfig      `envPrefix:"LOG_"`
	Database  DatabaseConfig `envPrefix:"DATABASE_"`
	Cache     CacheConfig    `envPrefix:"CACHE_"`
	Circuit   CircuitConfig
	JWT       JWTConfig
	Keys      KeyConfig
	Session   SessionConfig   `envPrefix:"SESSION_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

type AppConfig struct {
	Name    string `env:"NAME" envDefault:"tokenauth"`
	Version string `env:"VERSION" envDefault:"dev"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"localhost"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"tokenauth.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type CacheConfig struct {
	Driver           string        `env:"DRIVER" envDefault:"redis"`
	Address          string        `env:"ADDRESS" envDefault:"localhost:6379"`
	Password         string        `env:"PASSWORD"`
	DB               int           `env:"DB" envDefault:"0"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" envDefault:"250ms"`
	KeyPrefix        string        `env:"KEY_PREFIX" envDefault:"tokenauth:"`
}

// CircuitConfig uses the bare option names operators already know, so the
// fields carry full env names instead of a prefix.
type CircuitConfig struct {
	FailureThreshold       int `env:"CIRCUIT_FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeoutSeconds int `env:"CIRCUIT_RECOVERY_TIMEOUT_SECONDS" envDefault:"60"`
	HalfOpenMaxCalls       int `env:"CIRCUIT_HALF_OPEN_MAX_CALLS" envDefault:"3"`
	FallbackCacheMaxSize   int `env:"FALLBACK_CACHE_MAX_SIZE" envDefault:"1000"`
}

func (c CircuitConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}

type JWTConfig struct {
	Issuer          string        `env:"JWT_ISSUER" envDefault:"tokenauth"`
	Audience        string        `env:"JWT_AUDIENCE"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	// Leeway absorbs clock skew between instances when checking exp and nbf.
	Leeway          time.Duration `env:"JWT_LEEWAY" envDefault:"5s"`
}

type KeyConfig struct {
	RotationIntervalDays int           `env:"KEY_ROTATION_INTERVAL_DAYS" envDefault:"90"`
	Size                 int           `env:"KEY_SIZE" envDefault:"2048"`
	RotationGrace        time.Duration `env:"KEY_ROTATION_GRACE" envDefault:"720h"`
	RetiredRetention     time.Duration `env:"KEY_RETIRED_RETENTION" envDefault:"24h"`
	CheckInterval        time.Duration `env:"KEY_CHECK_INTERVAL" envDefault:"1h"`
	EncryptionSecret     string        `env:"KEY_ENCRYPTION_SECRET"`
}

func (c KeyConfig) RotationInterval() time.Duration {
	return time.Duration(c.RotationIntervalDays) * 24 * time.Hour
}

type SessionConfig struct {
	Retention       time.Duration `env:"RETENTION" envDefault:"168h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

// RateLimitConfig throttles the unauthenticated token endpoints per client.
type RateLimitConfig struct {
	Rate      int           `env:"RATE" envDefault:"30"`
	Period    time.Duration `env:"PERIOD" envDefault:"1m"`
	CountMode string        `env:"COUNT_MODE" envDefault:"all"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		return c.Validate()
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validateJWTConfig(&c.JWT); err != nil {
		return err
	}
	if err := validateCircuitConfig(&c.Circuit); err != nil {
		return err
	}
	if err := validateKeyConfig(&c.Keys, &c.JWT); err != nil {
		return err
	}
	return validateRateLimitConfig(&c.RateLimit)
}

func validateJWTConfig(cfg *JWTConfig) error {
	if cfg.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if cfg.RefreshTokenTTL <= cfg.AccessTokenTTL {
		return errors.New("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway >= cfg.AccessTokenTTL {
		return errors.New("JWT_LEEWAY must be between zero and ACCESS_TOKEN_TTL")
	}
	return nil
}

func validateCircuitConfig(cfg *CircuitConfig) error {
	if cfg.FailureThreshold < 1 {
		return errors.New("CIRCUIT_FAILURE_THRESHOLD must be at least 1")
	}
	if cfg.RecoveryTimeoutSeconds < 0 {
		return errors.New("CIRCUIT_RECOVERY_TIMEOUT_SECONDS cannot be negative")
	}
	if cfg.HalfOpenMaxCalls < 1 {
		return errors.New("CIRCUIT_HALF_OPEN_MAX_CALLS must be at least 1")
	}
	if cfg.FallbackCacheMaxSize < 1 {
		return errors.New("FALLBACK_CACHE_MAX_SIZE must be at least 1")
	}
	return nil
}

func validateKeyConfig(cfg *KeyConfig, jwtCfg *JWTConfig) error {
	if cfg.RotationIntervalDays < 1 {
		return errors.New("KEY_ROTATION_INTERVAL_DAYS must be at least 1")
	}
	if cfg.Size < 2048 {
		return fmt.Errorf("KEY_SIZE must be at least 2048 bits, got %d", cfg.Size)
	}
	// a demoted key has to outlive every token it signed
	if cfg.RotationGrace < jwtCfg.RefreshTokenTTL {
		return errors.New("KEY_ROTATION_GRACE must be at least REFRESH_TOKEN_TTL")
	}
	if cfg.EncryptionSecret != "" {
		raw, err := hex.DecodeString(cfg.EncryptionSecret)
		if err != nil || len(raw) != 32 {
			return errors.New("KEY_ENCRYPTION_SECRET must be 32 bytes encoded as hex")
		}
	}
	return nil
}

func validateRateLimitConfig(cfg *RateLimitConfig) error {
	if cfg.Rate < 1 {
		return errors.New("RATE_LIMIT_RATE must be at least 1")
	}
	switch cfg.CountMode {
	case "all", "failures", "success":
		return nil
	default:
		return fmt.Errorf("RATE_LIMIT_COUNT_MODE must be all, failures or success, got %q", cfg.CountMode)
	}
}

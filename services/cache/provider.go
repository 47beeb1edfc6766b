package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideBackend(lc fx.Lifecycle, cfg *config.Config, logger *logging.Service, clk clock.Clock) (Backend, error) {
	var backend Backend

	switch cfg.Cache.Driver {
	case "redis":
		backend = NewRedisBackend(RedisOptions{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.KeyPrefix,
			Timeout:  cfg.Cache.OperationTimeout,
		})
	case "memory":
		mem := NewMemoryBackend(clk)
		mem.StartCleanup(time.Minute)
		backend = mem
	default:
		return nil, fmt.Errorf("%w: %s (supported: redis, memory)", ErrUnsupportedDriver, cfg.Cache.Driver)
	}

	logger = logger.Named("cache")
	logger.Info("cache backend configured",
		zap.String("driver", cfg.Cache.Driver),
		zap.String("address", cfg.Cache.Address))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Cache.OperationTimeout)
			defer cancel()
			// an unreachable cache is survivable; the resilient store absorbs it
			if err := backend.Ping(pingCtx); err != nil {
				logger.Warn("cache backend unreachable at startup", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return backend.Close()
		},
	})

	return backend, nil
}

var Module = fx.Options(
	fx.Provide(ProvideBackend),
)

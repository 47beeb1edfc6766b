package resilient

import (
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/cache"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/fx"
)

func ProvideStore(cfg *config.Config, backend cache.Backend, logger *logging.Service, clk clock.Clock) (*Store, error) {
	return NewStore(backend, Options{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout(),
		HalfOpenMaxCalls: cfg.Circuit.HalfOpenMaxCalls,
		FallbackSize:     cfg.Circuit.FallbackCacheMaxSize,
		OperationTimeout: cfg.Cache.OperationTimeout,
	}, logger, clk)
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
)

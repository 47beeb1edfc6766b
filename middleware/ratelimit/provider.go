package ratelimit

import (
	"context"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"go.uber.org/fx"
)

// ProvideConfig builds the limiter settings for the token endpoints from
// RATE_LIMIT_*.
func ProvideConfig(lc fx.Lifecycle, cfg *config.Config, clk clock.Clock) *Config {
	store := NewMemoryStore(clk)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.RateLimit.Period > 0 {
				store.StartCleanup(cfg.RateLimit.Period)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			store.Close()
			return nil
		},
	})

	return &Config{
		Store:     store,
		Rate:      cfg.RateLimit.Rate,
		Period:    cfg.RateLimit.Period,
		CountMode: CountingMode(cfg.RateLimit.CountMode),
		Clock:     clk,
	}
}

var Module = fx.Options(
	fx.Provide(ProvideConfig),
)

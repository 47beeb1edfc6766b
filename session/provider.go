package session

import (
	"context"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionService(lc fx.Lifecycle, db *gorm.DB, cfg *config.Config, logger *logging.Service, clk clock.Clock) Service {
	svc := NewService(db, logger, clk)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Session.CleanupInterval > 0 {
				svc.StartCleanupWorker(cfg.Session.CleanupInterval, cfg.Session.Retention)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			svc.Stop()
			return nil
		},
	})

	return svc
}

var Module = fx.Options(
	fx.Provide(ProvideSessionService),
)

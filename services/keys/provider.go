package keys

import (
	"context"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideManager(lc fx.Lifecycle, db *gorm.DB, cfg *config.Config, logger *logging.Service, clk clock.Clock) (*Manager, error) {
	m, err := NewManager(db, cfg.Keys, logger, clk)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := m.Initialize(ctx); err != nil {
				return err
			}
			if _, err := m.CheckAge(ctx); err != nil {
				return err
			}
			m.StartRotationWorker()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			m.Stop()
			return nil
		},
	})

	return m, nil
}

var Module = fx.Options(
	fx.Provide(ProvideManager),
)

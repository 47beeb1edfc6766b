package revocation

import (
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"go.uber.org/fx"
)

func ProvideRevocationService(cfg *config.Config, store *resilient.Store, logger *logging.Service, clk clock.Clock) *Service {
	return NewService(store, cfg.JWT.RefreshTokenTTL, logger, clk)
}

var Module = fx.Options(
	fx.Provide(ProvideRevocationService),
)

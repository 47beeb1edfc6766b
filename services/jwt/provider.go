package jwt

import (
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/revocation"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/fx"
)

func ProvideJWTService(cfg *config.Config, manager *keys.Manager, revocations *revocation.Service, sessions session.Service, logger *logging.Service, clk clock.Clock) *Service {
	return NewService(cfg.JWT, manager, revocations, sessions, logger, clk)
}

var Module = fx.Options(
	fx.Provide(ProvideJWTService),
)

package refreshtoken

import (
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/revocation"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/fx"
)

func ProvideGuard(tokens *jwt.Service, revocations *revocation.Service, sessions session.Service, logger *logging.Service) *Guard {
	return NewGuard(tokens, revocations, sessions, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideGuard),
)

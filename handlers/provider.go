package handlers

import (
	"github.com/tech-arch1tect/tokenauth/middleware/ratelimit"
	"github.com/tech-arch1tect/tokenauth/openapi"
	"github.com/tech-arch1tect/tokenauth/server"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/refreshtoken"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/fx"
)

func ProvideHandler(manager *keys.Manager, store *resilient.Store, tokens *jwt.Service, guard *refreshtoken.Guard, sessions session.Service, logger *logging.Service) *Handler {
	return New(manager, store, tokens, guard, sessions, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideHandler, NewDocument),
	fx.Invoke(func(srv *server.Server, h *Handler, doc *openapi.Document, limiter *ratelimit.Config) {
		Register(srv, h, doc, limiter)
	}),
)

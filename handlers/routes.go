package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/tokenauth/config"
	jwtmiddleware "github.com/tech-arch1tect/tokenauth/middleware/jwt"
	"github.com/tech-arch1tect/tokenauth/middleware/ratelimit"
	"github.com/tech-arch1tect/tokenauth/openapi"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
)

const bearerScheme = "bearerAuth"

// Router is the subset of the server the handlers register on.
type Router interface {
	Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc)
	Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc)
	Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc)
}

// NewDocument describes every route Register adds.
func NewDocument(cfg *config.Config) *openapi.Document {
	doc := openapi.New(cfg.App.Name, cfg.App.Version).
		Description("Token authority: key discovery, token refresh and revocation, sessions.").
		Tag("keys", "Signing key discovery").
		Tag("tokens", "Refresh, revocation and introspection").
		Tag("sessions", "Sessions of the calling identity").
		BearerAuth(bearerScheme, "Access token issued by this authority")

	doc.Route(http.MethodGet, "/.well-known/jwks.json").
		Summary("Public signing keys").Tags("keys").
		Response(http.StatusOK, keys.JWKS{}, "Active and next keys, active first").
		Build()

	doc.Route(http.MethodGet, "/healthz").
		Summary("Health and cache circuit metrics").Tags("keys").
		Response(http.StatusOK, HealthResponse{}, "Serving").
		Response(http.StatusServiceUnavailable, HealthResponse{}, "No signing key loaded").
		Build()

	doc.Route(http.MethodPost, "/token/refresh").
		Summary("Exchange a refresh token for a new pair").Tags("tokens").
		Body(RefreshRequest{}, "Refresh token to consume").
		Response(http.StatusOK, jwt.TokenPair{}, "New token pair in the same family").
		Response(http.StatusBadRequest, ErrorResponse{}, "Missing refresh token").
		Response(http.StatusUnauthorized, ErrorResponse{}, "Rejected; a reused token also revokes every session of its owner").
		Response(http.StatusTooManyRequests, nil, "Rate limited").
		Build()

	doc.Route(http.MethodPost, "/token/revoke").
		Summary("Revoke a token").Tags("tokens").
		Body(TokenRequest{}, "Access or refresh token").
		Response(http.StatusOK, nil, "Revoked, or not a token of this authority").
		Build()

	doc.Route(http.MethodPost, "/token/introspect").
		Summary("Inspect a token").Tags("tokens").
		Body(TokenRequest{}, "Access or refresh token").
		Response(http.StatusOK, IntrospectResponse{}, "Token state").
		Security(bearerScheme).
		Build()

	doc.Route(http.MethodGet, "/sessions").
		Summary("List active sessions").Tags("sessions").
		Response(http.StatusOK, []SessionResponse{}, "Active sessions, most recently used first").
		Security(bearerScheme).
		Build()

	doc.Route(http.MethodDelete, "/sessions").
		Summary("Log out everywhere").Tags("sessions").
		Response(http.StatusOK, RevokeAllResponse{}, "Every token of the caller is revoked").
		Security(bearerScheme).
		Build()

	doc.Route(http.MethodDelete, "/sessions/:id").
		Summary("Revoke one session").Tags("sessions").
		Response(http.StatusNoContent, nil, "Revoked").
		Response(http.StatusNotFound, ErrorResponse{}, "No such active session").
		Security(bearerScheme).
		Build()

	return doc
}

// Register mounts the handlers. limiter guards the unauthenticated token
// endpoints and may be nil.
func Register(r Router, h *Handler, doc *openapi.Document, limiter *ratelimit.Config) {
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, ratelimit.Middleware(limiter))
	}
	auth := jwtmiddleware.RequireAccessToken(h.tokens)

	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/healthz", h.Health)
	r.Get("/openapi.json", doc.JSONHandler())
	r.Get("/openapi.yaml", doc.YAMLHandler())

	r.Post("/token/refresh", h.Refresh, limited...)
	r.Post("/token/revoke", h.Revoke, limited...)
	r.Post("/token/introspect", h.Introspect, auth)

	r.Get("/sessions", h.ListSessions, auth)
	r.Delete("/sessions", h.RevokeAllSessions, auth)
	r.Delete("/sessions/:id", h.RevokeSession, auth)
}

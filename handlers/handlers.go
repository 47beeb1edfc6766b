// Package handlers exposes the token authority over HTTP: key discovery,
// health, and the token and session endpoints clients call after login.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	jwtmiddleware "github.com/tech-arch1tect/tokenauth/middleware/jwt"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/refreshtoken"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/zap"
)

// JWKSCacheControl lets verifiers cache the key set for five minutes, well
// inside any rotation grace window.
const JWKSCacheControl = "public, max-age=300"

type KeySet interface {
	PublicJWKS() keys.JWKS
	ActiveKid() string
}

type StoreStats interface {
	Stats() resilient.Stats
}

type Tokens interface {
	jwtmiddleware.Verifier
	RevokeToken(ctx context.Context, token string) error
	RevokeAllTokens(ctx context.Context, identity, reason string) (int, error)
	RevokeSession(ctx context.Context, identity, sessionID, reason string) error
	Introspect(ctx context.Context, token string) jwt.Introspection
}

type Refresher interface {
	Refresh(ctx context.Context, oldRefresh string, info session.Info) (*jwt.TokenPair, error)
}

type Handler struct {
	keys     KeySet
	store    StoreStats
	tokens   Tokens
	guard    Refresher
	sessions session.Service
	logger   *logging.Service
}

func New(keySet KeySet, store StoreStats, tokens Tokens, guard Refresher, sessions session.Service, logger *logging.Service) *Handler {
	return &Handler{
		keys:     keySet,
		store:    store,
		tokens:   tokens,
		guard:    guard,
		sessions: sessions,
		logger:   logger.Named("handlers"),
	}
}

type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

type HealthResponse struct {
	Status    string          `json:"status" doc:"ok, degraded when the cache circuit is not closed, or unavailable without a signing key"`
	ActiveKid string          `json:"active_kid,omitempty"`
	Cache     resilient.Stats `json:"cache"`
}

type TokenRequest struct {
	Token string `json:"token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type IntrospectResponse struct {
	Active    bool   `json:"active"`
	Reason    string `json:"reason,omitempty"`
	Issued    bool   `json:"issued"`
	Subject   string `json:"sub,omitempty"`
	TenantID  string `json:"tid,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	JTI       string `json:"jti,omitempty"`
	FamilyID  string `json:"fid,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

type SessionResponse struct {
	ID         string    `json:"id"`
	DeviceName string    `json:"device_name"`
	IPAddress  string    `json:"ip_address"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsed   time.Time `json:"last_used"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type RevokeAllResponse struct {
	Sessions int `json:"sessions_revoked"`
}

func (h *Handler) JWKS(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, JWKSCacheControl)
	return c.JSON(http.StatusOK, h.keys.PublicJWKS())
}

// Health reports read-only metrics. It answers 503 only when no signing key
// is loaded; a degraded cache still serves tokens.
func (h *Handler) Health(c echo.Context) error {
	resp := HealthResponse{
		Status:    "ok",
		ActiveKid: h.keys.ActiveKid(),
		Cache:     h.store.Stats(),
	}
	if resp.Cache.State != resilient.StateClosed.String() {
		resp.Status = "degraded"
	}
	if resp.ActiveKid == "" {
		resp.Status = "unavailable"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Description: "refresh_token is required"})
	}

	info := session.Info{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	pair, err := h.guard.Refresh(c.Request().Context(), req.RefreshToken, info)
	switch {
	case err == nil:
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return c.JSON(http.StatusOK, pair)
	case errors.Is(err, refreshtoken.ErrRefreshReuseDetected):
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_grant", Description: "refresh_token_reuse"})
	case isTokenError(err):
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid_grant", Description: jwt.Reason(err)})
	default:
		h.logger.Error("refresh failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
	}
}

// Revoke follows RFC 7009: tokens this authority cannot parse are not an
// error for the caller.
func (h *Handler) Revoke(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Description: "token is required"})
	}

	if err := h.tokens.RevokeToken(c.Request().Context(), req.Token); err != nil {
		h.logger.Debug("ignoring revocation of unusable token", logging.Reason(jwt.Reason(err)))
	}
	return c.NoContent(http.StatusOK)
}

func (h *Handler) Introspect(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Description: "token is required"})
	}

	result := h.tokens.Introspect(c.Request().Context(), req.Token)
	resp := IntrospectResponse{
		Active: result.Active,
		Reason: result.Reason,
		Issued: result.Issued,
	}
	if claims := result.Claims; claims != nil {
		resp.Subject = claims.Subject
		resp.TenantID = claims.TenantID
		resp.TokenType = string(claims.Type)
		resp.JTI = claims.ID
		resp.FamilyID = claims.FamilyID
		resp.IssuedAt = claims.IssuedAtTime().Unix()
		resp.ExpiresAt = claims.Expiry().Unix()
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.sessions.ListActive(c.Request().Context(), jwtmiddleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:         s.ID,
			DeviceName: s.DeviceName,
			IPAddress:  s.IPAddress,
			CreatedAt:  s.CreatedAt,
			LastUsed:   s.LastUsed,
			ExpiresAt:  s.ExpiresAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) RevokeSession(c echo.Context) error {
	err := h.tokens.RevokeSession(c.Request().Context(), jwtmiddleware.GetUserID(c), c.Param("id"), session.ReasonLogout)
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, session.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Description: "session not found"})
	default:
		h.logger.Error("failed to revoke session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
	}
}

// RevokeAllSessions is "log out everywhere" for the caller.
func (h *Handler) RevokeAllSessions(c echo.Context) error {
	count, err := h.tokens.RevokeAllTokens(c.Request().Context(), jwtmiddleware.GetUserID(c), session.ReasonLogout)
	if err != nil {
		// the identity marker is written before the sweep can fail
		h.logger.Error("session sweep incomplete", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "server_error"})
	}
	return c.JSON(http.StatusOK, RevokeAllResponse{Sessions: count})
}

func isTokenError(err error) bool {
	for _, target := range []error{
		jwt.ErrInvalidToken, jwt.ErrExpiredToken, jwt.ErrMalformedToken, jwt.ErrInvalidSignature,
		jwt.ErrUnknownSigningKey, jwt.ErrTokenTypeMismatch, jwt.ErrTokenRevoked, jwt.ErrUserRevoked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

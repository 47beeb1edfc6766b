// Package refreshtoken enforces single-use refresh tokens. Every refresh
// token may be exchanged exactly once; presenting it a second time is
// treated as theft and revokes everything issued to its owner.
package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/zap"
)

var ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

// TokenService is the part of the issuer the guard needs.
type TokenService interface {
	VerifyToken(ctx context.Context, token string, expected jwt.TokenType, opts ...jwt.VerifyOption) (*jwt.Claims, error)
	IssuePair(ctx context.Context, identity string, opts ...jwt.TokenOption) (*jwt.TokenPair, error)
	RevokeAllTokens(ctx context.Context, identity, reason string) (int, error)
	Leeway() time.Duration
}

// UsageMarker consumes a refresh jti atomically. ReleaseRefresh hands a jti
// back when the exchange it was consumed for did not complete.
type UsageMarker interface {
	MarkRefreshUsed(ctx context.Context, jti string, expiresAt time.Time) resilient.SetResult
	ReleaseRefresh(ctx context.Context, jti string) bool
}

type Guard struct {
	tokens   TokenService
	usage    UsageMarker
	sessions session.Service
	logger   *logging.Service
}

func NewGuard(tokens TokenService, usage UsageMarker, sessions session.Service, logger *logging.Service) *Guard {
	return &Guard{
		tokens:   tokens,
		usage:    usage,
		sessions: sessions,
		logger:   logger.Named("refreshtoken"),
	}
}

// Refresh exchanges oldRefresh for a new pair in the same family. The first
// caller to present a given token wins; any later caller triggers a full
// revocation of the owner's tokens and gets ErrRefreshReuseDetected.
//
// If the exchange fails after the token was consumed, the token is released
// again so the client can retry. A token whose session was revoked stays
// consumed.
func (g *Guard) Refresh(ctx context.Context, oldRefresh string, info session.Info) (*jwt.TokenPair, error) {
	claims, err := g.tokens.VerifyToken(ctx, oldRefresh, jwt.TypeRefresh)
	if err != nil {
		return nil, err
	}

	if g.usage.MarkRefreshUsed(ctx, claims.ID, claims.Expiry().Add(g.tokens.Leeway())) == resilient.AlreadySet {
		return nil, g.handleReuse(ctx, claims)
	}

	pair, err := g.rotate(ctx, claims, info)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenRevoked) {
			g.release(ctx, claims, err)
		}
		return nil, err
	}

	g.logger.Info("refresh token rotated",
		logging.UserID(claims.Subject),
		logging.FamilyID(claims.FamilyID),
		zap.String("old_jti", claims.ID),
		zap.String("new_jti", pair.RefreshJTI))
	return pair, nil
}

func (g *Guard) rotate(ctx context.Context, claims *jwt.Claims, info session.Info) (*jwt.TokenPair, error) {
	pair, err := g.tokens.IssuePair(ctx, claims.Subject,
		jwt.WithTenant(claims.TenantID),
		jwt.WithOrganization(claims.OrganizationID),
		jwt.WithFamily(claims.FamilyID))
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if err := g.trackSession(ctx, claims, pair, info); err != nil {
		return nil, err
	}
	return pair, nil
}

func (g *Guard) release(ctx context.Context, claims *jwt.Claims, cause error) {
	shared := g.usage.ReleaseRefresh(ctx, claims.ID)
	g.logger.Warn("refresh failed, token released for retry",
		logging.UserID(claims.Subject),
		logging.JTI(claims.ID),
		zap.Bool("shared", shared),
		zap.Error(cause))
}

func (g *Guard) handleReuse(ctx context.Context, claims *jwt.Claims) error {
	g.logger.Error("refresh token reuse detected, revoking all tokens",
		logging.UserID(claims.Subject),
		logging.FamilyID(claims.FamilyID),
		logging.JTI(claims.ID))

	if _, err := g.tokens.RevokeAllTokens(ctx, claims.Subject, session.ReasonRefreshReuse); err != nil {
		// the identity marker is already in place at this point
		g.logger.Error("session revocation after reuse incomplete",
			logging.UserID(claims.Subject),
			zap.Error(err))
	}
	return ErrRefreshReuseDetected
}

// trackSession moves the session to the new pair. A token that was issued
// without a session starts one here; a token whose session was revoked is
// rejected even when its blacklist marker is gone.
func (g *Guard) trackSession(ctx context.Context, claims *jwt.Claims, pair *jwt.TokenPair, info session.Info) error {
	err := g.sessions.Rotate(ctx, claims.ID, pair.AccessJTI, pair.RefreshJTI, pair.RefreshExpiresAt)
	if err == nil {
		if sess, lookupErr := g.sessions.GetByRefreshJTI(ctx, pair.RefreshJTI); lookupErr == nil {
			pair.SessionID = sess.ID
		}
		return nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		return fmt.Errorf("failed to update session: %w", err)
	}

	prior, err := g.sessions.GetByRefreshJTI(ctx, claims.ID)
	switch {
	case err == nil:
		g.logger.Warn("refresh token presented for revoked session",
			logging.UserID(claims.Subject),
			logging.SessionID(prior.ID),
			logging.Reason(prior.RevokedReason))
		return jwt.ErrTokenRevoked
	case !errors.Is(err, session.ErrSessionNotFound):
		return fmt.Errorf("failed to look up session: %w", err)
	}

	sess := &session.Session{
		UserID:          claims.Subject,
		TenantID:        claims.TenantID,
		FamilyID:        pair.FamilyID,
		AccessTokenJTI:  pair.AccessJTI,
		RefreshTokenJTI: pair.RefreshJTI,
		IPAddress:       info.IPAddress,
		UserAgent:       info.UserAgent,
		DeviceName:      info.DeviceName,
		ExpiresAt:       pair.RefreshExpiresAt,
	}
	if err := g.sessions.Create(ctx, sess); err != nil {
		return err
	}
	pair.SessionID = sess.ID

	g.logger.Debug("session started on refresh",
		logging.UserID(claims.Subject),
		logging.SessionID(sess.ID))
	return nil
}

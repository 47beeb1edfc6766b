// Package revocation stores the per-token and per-identity markers that
// decide whether an otherwise valid token is still honoured. All state lives
// in the cache behind the resilient store and expires on its own once the
// tokens it refers to could no longer verify anyway.
package revocation

import (
	"context"
	"strconv"
	"time"

	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"go.uber.org/zap"
)

const (
	issuedPrefix    = "token:issued:"
	blacklistPrefix = "token:blacklist:"
	userPrefix      = "user:revoked:"
	refreshPrefix   = "refresh:used:"
)

// minMarkerTTL keeps a marker for a token that is about to expire from
// being written with a zero ttl, which the backend would treat as forever.
const minMarkerTTL = time.Second

type Service struct {
	store         *resilient.Store
	clock         clock.Clock
	logger        *logging.Service
	userMarkerTTL time.Duration
}

// NewService creates the marker service. userMarkerTTL must be at least the
// longest token lifetime so that no token outlives its owner's marker.
func NewService(store *resilient.Store, userMarkerTTL time.Duration, logger *logging.Service, c clock.Clock) *Service {
	return &Service{
		store:         store,
		clock:         clock.OrReal(c),
		logger:        logger.Named("revocation"),
		userMarkerTTL: userMarkerTTL,
	}
}

// RevokeJTI blacklists jti until expiresAt. It reports whether the marker
// reached the shared cache; it is honoured locally regardless.
func (s *Service) RevokeJTI(ctx context.Context, jti string, expiresAt time.Time) bool {
	ttl, live := s.remaining(expiresAt)
	if !live {
		return true
	}

	stored := s.store.Set(ctx, blacklistPrefix+jti, "1", ttl)
	s.logger.Info("token revoked",
		logging.JTI(jti),
		zap.Time("expires_at", expiresAt),
		zap.Bool("shared", stored))
	return stored
}

func (s *Service) IsRevoked(ctx context.Context, jti string) bool {
	revoked := s.store.Exists(ctx, blacklistPrefix+jti)
	s.warnIfDegraded("blacklist", logging.JTI(jti), zap.Bool("revoked", revoked))
	return revoked
}

// RevokeUser writes the mass-revocation marker for identity. Every token
// issued at or before at is rejected from then on.
func (s *Service) RevokeUser(ctx context.Context, identity string, at time.Time) bool {
	stored := s.store.Set(ctx, userPrefix+identity, strconv.FormatInt(at.UnixMilli(), 10), s.userMarkerTTL)
	s.logger.Warn("all tokens revoked for user",
		logging.UserID(identity),
		zap.Time("revoked_at", at),
		zap.Bool("shared", stored))
	return stored
}

func (s *Service) UserRevokedAt(ctx context.Context, identity string) (time.Time, bool) {
	raw, found := s.store.Get(ctx, userPrefix+identity)
	s.warnIfDegraded("user marker", logging.UserID(identity), zap.Bool("found", found))
	if !found {
		return time.Time{}, false
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// an unreadable marker still means the user was revoked
		s.logger.Error("malformed user revocation marker", logging.UserID(identity), zap.String("value", raw))
		return s.clock.Now(), true
	}
	return time.UnixMilli(ms), true
}

// IsUserRevoked reports whether a token issued at issuedAt predates the
// identity's revocation marker. Token timestamps carry whole seconds, so a
// token issued in the same second as the marker counts as revoked.
func (s *Service) IsUserRevoked(ctx context.Context, identity string, issuedAt time.Time) bool {
	revokedAt, found := s.UserRevokedAt(ctx, identity)
	if !found {
		return false
	}
	return !issuedAt.After(revokedAt.Truncate(time.Second))
}

// RecordIssued registers jti as a live token until expiresAt.
func (s *Service) RecordIssued(ctx context.Context, jti string, expiresAt time.Time) bool {
	ttl, live := s.remaining(expiresAt)
	if !live {
		return false
	}
	return s.store.Set(ctx, issuedPrefix+jti, "1", ttl)
}

func (s *Service) IsIssued(ctx context.Context, jti string) bool {
	return s.store.Exists(ctx, issuedPrefix+jti)
}

func (s *Service) ForgetIssued(ctx context.Context, jti string) bool {
	return s.store.Delete(ctx, issuedPrefix+jti)
}

// MarkRefreshUsed atomically consumes a refresh token. Only the first caller
// for a given jti gets resilient.Acquired.
func (s *Service) MarkRefreshUsed(ctx context.Context, jti string, expiresAt time.Time) resilient.SetResult {
	ttl, live := s.remaining(expiresAt)
	if !live {
		ttl = minMarkerTTL
	}
	return s.store.SetIfAbsent(ctx, refreshPrefix+jti, strconv.FormatInt(s.clock.Now().UnixMilli(), 10), ttl)
}

// ReleaseRefresh undoes MarkRefreshUsed for jti. It reports whether the
// shared cache was reached; the local claim is dropped either way.
func (s *Service) ReleaseRefresh(ctx context.Context, jti string) bool {
	return s.store.Delete(ctx, refreshPrefix+jti)
}

func (s *Service) remaining(expiresAt time.Time) (time.Duration, bool) {
	ttl := expiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return 0, false
	}
	if ttl < minMarkerTTL {
		ttl = minMarkerTTL
	}
	return ttl, true
}

func (s *Service) warnIfDegraded(check string, fields ...zap.Field) {
	if state := s.store.State(); state != resilient.StateClosed {
		fields = append(fields, zap.String("check", check), zap.String("circuit", state.String()))
		s.logger.Warn("revocation check answered from fallback cache", fields...)
	}
}

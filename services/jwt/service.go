// Package jwt issues and verifies the RS256 tokens of the authority. Every
// token carries the kid of the key that signed it so verifiers can pick the
// right public key across rotations.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/zap"
)

type KeyProvider interface {
	SigningKey() (keys.Key, error)
	VerificationKey(ctx context.Context, kid string) (*keys.Key, error)
}

// RevocationService is the marker store consulted on every verification.
type RevocationService interface {
	RevokeJTI(ctx context.Context, jti string, expiresAt time.Time) bool
	IsRevoked(ctx context.Context, jti string) bool
	RevokeUser(ctx context.Context, identity string, at time.Time) bool
	IsUserRevoked(ctx context.Context, identity string, issuedAt time.Time) bool
	RecordIssued(ctx context.Context, jti string, expiresAt time.Time) bool
	IsIssued(ctx context.Context, jti string) bool
}

type Service struct {
	cfg         config.JWTConfig
	keys        KeyProvider
	revocations RevocationService
	sessions    session.Service
	clock       clock.Clock
	logger      *logging.Service
}

func NewService(cfg config.JWTConfig, keyProvider KeyProvider, revocations RevocationService, sessions session.Service, logger *logging.Service, c clock.Clock) *Service {
	return &Service{
		cfg:         cfg,
		keys:        keyProvider,
		revocations: revocations,
		sessions:    sessions,
		clock:       clock.OrReal(c),
		logger:      logger.Named("jwt"),
	}
}

func (s *Service) AccessTokenTTL() time.Duration {
	return s.cfg.AccessTokenTTL
}

func (s *Service) RefreshTokenTTL() time.Duration {
	return s.cfg.RefreshTokenTTL
}

// Leeway is how long past exp a token still verifies.
func (s *Service) Leeway() time.Duration {
	return s.cfg.Leeway
}

// CreateAccessToken signs a new access token for identity and registers its
// jti as issued.
func (s *Service) CreateAccessToken(ctx context.Context, identity string, opts ...TokenOption) (string, *Claims, error) {
	o := tokenOptions{ttl: s.cfg.AccessTokenTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return s.issue(ctx, identity, TypeAccess, o)
}

// CreateRefreshToken signs a new refresh token. The family is carried over
// when given with WithFamily, otherwise a new one is started.
func (s *Service) CreateRefreshToken(ctx context.Context, identity string, opts ...TokenOption) (string, *Claims, error) {
	o := tokenOptions{ttl: s.cfg.RefreshTokenTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.familyID == "" {
		o.familyID = uuid.NewString()
	}
	// extra claims belong to access tokens only
	o.extra = nil
	return s.issue(ctx, identity, TypeRefresh, o)
}

// IssuePair signs an access and a refresh token sharing one family without
// touching the session store.
func (s *Service) IssuePair(ctx context.Context, identity string, opts ...TokenOption) (*TokenPair, error) {
	o := tokenOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.familyID == "" {
		o.familyID = uuid.NewString()
	}
	opts = append(opts, WithFamily(o.familyID))

	access, accessClaims, err := s.CreateAccessToken(ctx, identity, opts...)
	if err != nil {
		return nil, err
	}

	refresh, refreshClaims, err := s.CreateRefreshToken(ctx, identity, opts...)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int(accessClaims.Expiry().Sub(accessClaims.IssuedAtTime()).Seconds()),
		RefreshExpiresIn: int(refreshClaims.Expiry().Sub(refreshClaims.IssuedAtTime()).Seconds()),
		FamilyID:         o.familyID,
		AccessJTI:        accessClaims.ID,
		RefreshJTI:       refreshClaims.ID,
		AccessExpiresAt:  accessClaims.Expiry(),
		RefreshExpiresAt: refreshClaims.Expiry(),
	}, nil
}

// CreateTokens is the entry point for an already authenticated identity: it
// issues a token pair and records the login as a durable session.
func (s *Service) CreateTokens(ctx context.Context, identity string, info session.Info, opts ...TokenOption) (*TokenPair, error) {
	pair, err := s.IssuePair(ctx, identity, opts...)
	if err != nil {
		return nil, err
	}

	o := tokenOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	sess := &session.Session{
		UserID:          identity,
		TenantID:        o.tenantID,
		FamilyID:        pair.FamilyID,
		AccessTokenJTI:  pair.AccessJTI,
		RefreshTokenJTI: pair.RefreshJTI,
		IPAddress:       info.IPAddress,
		UserAgent:       info.UserAgent,
		DeviceName:      info.DeviceName,
		ExpiresAt:       pair.RefreshExpiresAt,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	pair.SessionID = sess.ID

	s.logger.Info("tokens issued",
		logging.UserID(identity),
		logging.SessionID(sess.ID),
		logging.FamilyID(pair.FamilyID))
	return pair, nil
}

// VerifyToken checks signature, type, lifetime and revocation state, in that
// order, and returns the claims of a token that passes all of them.
func (s *Service) VerifyToken(ctx context.Context, tokenString string, expected TokenType, opts ...VerifyOption) (*Claims, error) {
	var o verifyOptions
	for _, opt := range opts {
		opt(&o)
	}

	claims, err := s.parse(ctx, tokenString, expected, o)
	if err != nil {
		s.logger.Debug("token verification failed", logging.Reason(Reason(err)))
		return nil, err
	}

	if err := s.checkRevocation(ctx, claims); err != nil {
		s.logger.Warn("revoked token presented",
			logging.JTI(claims.ID),
			logging.UserID(claims.Subject),
			logging.Reason(Reason(err)))
		return nil, err
	}

	return claims, nil
}

// RevokeToken blacklists a token this service signed for the rest of its
// lifetime. Expired tokens need no marker and are accepted silently.
func (s *Service) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := s.parse(ctx, tokenString, "", verifyOptions{skipExpiry: true})
	if err != nil {
		return err
	}
	s.RevokeJTI(ctx, claims.ID, claims.Expiry())
	return nil
}

// RevokeJTI blacklists jti until the token could no longer verify, which is
// expiresAt plus the leeway.
func (s *Service) RevokeJTI(ctx context.Context, jti string, expiresAt time.Time) {
	if !s.revocations.RevokeJTI(ctx, jti, expiresAt.Add(s.cfg.Leeway)) {
		s.logger.Warn("revocation marker only stored locally, cache unavailable", logging.JTI(jti))
	}
}

// RevokeAllTokens rejects every token issued to identity so far. The
// identity marker is written first so revocation takes effect at once; the
// per-session blacklist that follows covers verifiers that only check jtis.
// The number of sessions revoked is returned.
func (s *Service) RevokeAllTokens(ctx context.Context, identity, reason string) (int, error) {
	now := s.clock.Now()
	s.revocations.RevokeUser(ctx, identity, now)

	sessions, err := s.sessions.RevokeAllForUser(ctx, identity, reason)
	if err != nil {
		s.logger.Error("session sweep failed, identity marker still applies",
			logging.UserID(identity),
			zap.Error(err))
		return 0, fmt.Errorf("failed to revoke sessions for %s: %w", identity, err)
	}

	for i := range sessions {
		s.blacklistSession(ctx, &sessions[i], now)
	}

	s.logger.Warn("all tokens revoked",
		logging.UserID(identity),
		logging.Reason(reason),
		zap.Int("sessions", len(sessions)))
	return len(sessions), nil
}

// RevokeSession ends one session of identity and blacklists the tokens it
// currently holds. Sessions of other identities are reported as not found.
func (s *Service) RevokeSession(ctx context.Context, identity, sessionID, reason string) error {
	active, err := s.sessions.ListActive(ctx, identity)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(active, func(sess session.Session) bool { return sess.ID == sessionID }) {
		return session.ErrSessionNotFound
	}

	sess, err := s.sessions.Revoke(ctx, sessionID, reason)
	if err != nil {
		return err
	}
	s.blacklistSession(ctx, sess, s.clock.Now())
	return nil
}

// blacklistSession revokes the jtis a session holds. The access token of a
// session is at most one access lifetime old.
func (s *Service) blacklistSession(ctx context.Context, sess *session.Session, now time.Time) {
	if sess.AccessTokenJTI != "" {
		s.RevokeJTI(ctx, sess.AccessTokenJTI, now.Add(s.cfg.AccessTokenTTL))
	}
	if sess.RefreshTokenJTI != "" {
		s.RevokeJTI(ctx, sess.RefreshTokenJTI, sess.ExpiresAt)
	}
}

// Introspection is a diagnostic view of a token. It never fails on expiry.
type Introspection struct {
	Active bool    `json:"active"`
	Reason string  `json:"reason,omitempty"`
	Issued bool    `json:"issued"`
	Claims *Claims `json:"claims,omitempty"`
}

func (s *Service) Introspect(ctx context.Context, tokenString string) Introspection {
	claims, err := s.parse(ctx, tokenString, "", verifyOptions{skipExpiry: true})
	if err != nil {
		return Introspection{Reason: Reason(err)}
	}

	result := Introspection{
		Claims: claims,
		Issued: s.revocations.IsIssued(ctx, claims.ID),
	}

	revoked := s.checkRevocation(ctx, claims)
	switch {
	case revoked != nil:
		result.Reason = Reason(revoked)
	case !s.clock.Now().Before(claims.Expiry().Add(s.cfg.Leeway)):
		result.Reason = Reason(ErrExpiredToken)
	default:
		result.Active = true
	}
	return result
}

func (s *Service) issue(ctx context.Context, identity string, tokenType TokenType, o tokenOptions) (string, *Claims, error) {
	if identity == "" {
		return "", nil, errors.New("identity is required")
	}

	key, err := s.keys.SigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate JWT %s token: %w", tokenType, err)
	}

	now := s.clock.Now()
	claims := &Claims{
		TenantID:       o.tenantID,
		OrganizationID: o.organizationID,
		Type:           tokenType,
		FamilyID:       o.familyID,
		Extra:          o.extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   identity,
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(key.Private)
	if err != nil {
		s.logger.Error("failed to sign JWT token", zap.String("type", string(tokenType)), zap.Error(err))
		return "", nil, fmt.Errorf("failed to generate JWT %s token: %w", tokenType, err)
	}

	s.revocations.RecordIssued(ctx, claims.ID, claims.Expiry())

	s.logger.Debug("token signed",
		zap.String("type", string(tokenType)),
		logging.JTI(claims.ID),
		logging.Kid(key.Kid),
		logging.UserID(identity))
	return signed, claims, nil
}

// parse verifies the signature and registered claims. expected may be empty
// to accept either token type.
func (s *Service) parse(ctx context.Context, tokenString string, expected TokenType, o verifyOptions) (*Claims, error) {
	claims := &Claims{}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMalformedToken
		}
		key, err := s.keys.VerificationKey(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.Public, nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	if expected != "" && claims.Type != expected {
		return nil, ErrTokenTypeMismatch
	}

	now := s.clock.Now
	if o.skipExpiry && claims.IssuedAt != nil {
		// judge the token as of its own issuance
		issued := claims.IssuedAt.Time
		now = func() time.Time { return issued }
	}

	validatorOpts := []jwt.ParserOption{
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.cfg.Leeway),
	}
	if s.cfg.Issuer != "" {
		validatorOpts = append(validatorOpts, jwt.WithIssuer(s.cfg.Issuer))
	}
	if s.cfg.Audience != "" {
		validatorOpts = append(validatorOpts, jwt.WithAudience(s.cfg.Audience))
	}

	if err := jwt.NewValidator(validatorOpts...).Validate(claims); err != nil {
		return nil, s.classify(err)
	}

	return claims, nil
}

func (s *Service) checkRevocation(ctx context.Context, claims *Claims) error {
	if s.revocations.IsRevoked(ctx, claims.ID) {
		return ErrTokenRevoked
	}
	if s.revocations.IsUserRevoked(ctx, claims.Subject, claims.IssuedAtTime()) {
		return ErrUserRevoked
	}
	return nil
}

func (s *Service) classify(err error) error {
	switch {
	case errors.Is(err, keys.ErrUnknownKey):
		return ErrUnknownSigningKey
	case errors.Is(err, ErrMalformedToken), errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		s.logger.Error("token could not be verified", zap.Error(err))
		return ErrInvalidToken
	default:
		return ErrInvalidToken
	}
}

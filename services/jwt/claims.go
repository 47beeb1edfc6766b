package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

// Claims is the payload of every token. Subject carries the identity and ID
// the jti.
type Claims struct {
	TenantID       string         `json:"tid,omitempty"`
	OrganizationID string         `json:"org,omitempty"`
	Type           TokenType      `json:"type"`
	FamilyID       string         `json:"fid,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) JTI() string {
	return c.ID
}

func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// TokenPair is what a login or refresh hands back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresIn int       `json:"refresh_expires_in"`
	FamilyID         string    `json:"family_id"`
	SessionID        string    `json:"session_id,omitempty"`
	AccessJTI        string    `json:"-"`
	RefreshJTI       string    `json:"-"`
	AccessExpiresAt  time.Time `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

type tokenOptions struct {
	tenantID       string
	organizationID string
	familyID       string
	extra          map[string]any
	ttl            time.Duration
}

type TokenOption func(*tokenOptions)

func WithTenant(tenantID string) TokenOption {
	return func(o *tokenOptions) { o.tenantID = tenantID }
}

func WithOrganization(organizationID string) TokenOption {
	return func(o *tokenOptions) { o.organizationID = organizationID }
}

// WithFamily keeps a refresh token in an existing family. Without it a new
// family is started.
func WithFamily(familyID string) TokenOption {
	return func(o *tokenOptions) { o.familyID = familyID }
}

func WithExtraClaims(extra map[string]any) TokenOption {
	return func(o *tokenOptions) { o.extra = extra }
}

// WithTTL overrides the configured lifetime for one token.
func WithTTL(ttl time.Duration) TokenOption {
	return func(o *tokenOptions) { o.ttl = ttl }
}

type verifyOptions struct {
	skipExpiry bool
}

type VerifyOption func(*verifyOptions)

// SkipExpiry accepts tokens past their exp. Only diagnostic paths should use
// it; revocation is still enforced.
func SkipExpiry() VerifyOption {
	return func(o *verifyOptions) { o.skipExpiry = true }
}

package jwt

import (
	"errors"
)

var (
	ErrInvalidToken      = errors.New("invalid JWT token")
	ErrExpiredToken      = errors.New("JWT token has expired")
	ErrMalformedToken    = errors.New("malformed JWT token")
	ErrInvalidSignature  = errors.New("invalid JWT token signature")
	ErrUnknownSigningKey = errors.New("JWT token signed with unknown key")
	ErrTokenTypeMismatch = errors.New("JWT token type mismatch")
	ErrTokenRevoked      = errors.New("JWT token has been revoked")
	ErrUserRevoked       = errors.New("all tokens for this user have been revoked")
)

// Reason maps a verification error to the short code reported to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpiredToken):
		return "token_expired"
	case errors.Is(err, ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnknownSigningKey):
		return "unknown_signing_key"
	case errors.Is(err, ErrTokenTypeMismatch):
		return "token_type_mismatch"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrUserRevoked):
		return "user_revoked"
	default:
		return "invalid_token"
	}
}

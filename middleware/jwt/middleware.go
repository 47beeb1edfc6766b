package jwt

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
)

const (
	UserIDKey = "_jwt_user_id"
	ClaimsKey = "_jwt_claims"
)

// Verifier is satisfied by *jwt.Service.
type Verifier interface {
	VerifyToken(ctx context.Context, token string, expected jwt.TokenType, opts ...jwt.VerifyOption) (*jwt.Claims, error)
}

// RequireAccessToken rejects requests without a valid bearer access token.
// Rejections carry a WWW-Authenticate challenge (RFC 6750) and, for tokens
// that fail verification, the reason code from jwt.Reason as the message.
func RequireAccessToken(verifier Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return reject(c, "", "Authorization header required")
			}

			scheme, token, _ := strings.Cut(authHeader, " ")
			if !strings.EqualFold(scheme, "Bearer") {
				return reject(c, "invalid_request", "Invalid authorization header format")
			}

			token = strings.TrimSpace(token)
			if token == "" {
				return reject(c, "invalid_request", "JWT token required")
			}

			claims, err := verifier.VerifyToken(c.Request().Context(), token, jwt.TypeAccess)
			if err != nil {
				return reject(c, "invalid_token", jwt.Reason(err))
			}

			c.Set(UserIDKey, claims.UserID())
			c.Set(ClaimsKey, claims)

			return next(c)
		}
	}
}

func reject(c echo.Context, code, message string) error {
	challenge := "Bearer"
	if code != "" {
		challenge = fmt.Sprintf("Bearer error=%q, error_description=%q", code, message)
	}
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
	return echo.NewHTTPError(http.StatusUnauthorized, message)
}

func GetUserID(c echo.Context) string {
	if userID, ok := c.Get(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

func GetClaims(c echo.Context) *jwt.Claims {
	if claims, ok := c.Get(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
)

// CountingMode selects which responses use up the allowance.
type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type Config struct {
	Store          Store
	Rate           int
	Period         time.Duration
	CountMode      CountingMode
	Clock          clock.Clock
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	cfg.Clock = clock.OrReal(cfg.Clock)
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(cfg.Clock)
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}
	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}
	if cfg.CountMode == "" {
		cfg.CountMode = CountAll
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := cfg.KeyGenerator(c)
			resetTime := cfg.Clock.Now().Add(cfg.Period)

			count, existingReset, exists := cfg.Store.Get(key)
			if exists {
				resetTime = existingReset
			}

			if count >= cfg.Rate {
				setHeaders(c, cfg.Rate, 0, resetTime)
				return cfg.OnLimitReached(c)
			}

			// CountAll charges up front so concurrent requests cannot overrun
			// the window; the other modes charge once the outcome is known.
			used := count + 1
			if cfg.CountMode == CountAll {
				used = cfg.Store.Increment(key, resetTime)
			}
			setHeaders(c, cfg.Rate, max(cfg.Rate-used, 0), resetTime)

			err := next(c)

			if cfg.CountMode != CountAll && charged(cfg.CountMode, responseStatus(c, err)) {
				cfg.Store.Increment(key, resetTime)
			}
			return err
		}
	}
}

func charged(mode CountingMode, status int) bool {
	switch mode {
	case CountFailures:
		return status >= 400
	case CountSuccess:
		return status < 400
	default:
		return true
	}
}

// responseStatus is the status the client will see. Handlers returning an
// error have not written a response yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	return http.StatusInternalServerError
}

func setHeaders(c echo.Context, limit, remaining int, reset time.Time) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
}

func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()
	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}
	return "rate_limit:" + realIP
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}

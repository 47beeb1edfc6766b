package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/testutils"
	"go.uber.org/fx/fxtest"
)

func serve(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/token/refresh", nil)
	req.Header.Set("X-Real-IP", ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newEcho(cfg *Config, status int) *echo.Echo {
	e := echo.New()
	e.POST("/token/refresh", func(c echo.Context) error {
		if status >= 400 {
			return echo.NewHTTPError(status, "nope")
		}
		return c.String(status, "ok")
	}, Middleware(cfg))
	return e
}

func TestMiddleware_CountAll(t *testing.T) {
	clk := testutils.FakeClock()
	e := newEcho(&Config{Rate: 2, Period: time.Minute, Clock: clk}, http.StatusOK)

	first := serve(e, "10.0.0.1")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(clk.Now().Add(time.Minute).Unix(), 10), first.Header().Get("X-RateLimit-Reset"))

	assert.Equal(t, http.StatusOK, serve(e, "10.0.0.1").Code)

	limited := serve(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, serve(e, "10.0.0.2").Code, "other clients have their own window")

	clk.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, serve(e, "10.0.0.1").Code, "window reopened")
}

func TestMiddleware_CountFailures(t *testing.T) {
	clk := testutils.FakeClock()

	t.Run("failures use up the allowance", func(t *testing.T) {
		e := newEcho(&Config{Rate: 2, CountMode: CountFailures, Clock: clk}, http.StatusUnauthorized)

		assert.Equal(t, http.StatusUnauthorized, serve(e, "10.0.0.1").Code)
		assert.Equal(t, http.StatusUnauthorized, serve(e, "10.0.0.1").Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(e, "10.0.0.1").Code)
	})

	t.Run("successes are free", func(t *testing.T) {
		e := newEcho(&Config{Rate: 1, CountMode: CountFailures, Clock: clk}, http.StatusOK)

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, serve(e, "10.0.0.1").Code)
		}
	})
}

func TestMiddleware_CustomKeyAndHandler(t *testing.T) {
	called := false
	cfg := &Config{
		Rate:         1,
		Clock:        testutils.FakeClock(),
		KeyGenerator: func(c echo.Context) string { return "shared" },
		OnLimitReached: func(c echo.Context) error {
			called = true
			return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "slow_down"})
		},
	}
	e := newEcho(cfg, http.StatusOK)

	assert.Equal(t, http.StatusOK, serve(e, "10.0.0.1").Code)
	rec := serve(e, "10.0.0.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.True(t, called)
	assert.Contains(t, rec.Body.String(), "slow_down")
}

func TestDefaultKeyGenerator(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-IP", "192.0.2.10")
	c := e.NewContext(req, httptest.NewRecorder())

	assert.Equal(t, "rate_limit:192.0.2.10", DefaultKeyGenerator(c))
}

func TestProvideConfig(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := testutils.GetTestConfig()

	limiter := ProvideConfig(lc, cfg, clock.Real())
	lc.RequireStart()
	defer lc.RequireStop()

	require.NotNil(t, limiter.Store)
	assert.Equal(t, 5, limiter.Rate)
	assert.Equal(t, time.Minute, limiter.Period)
	assert.Equal(t, CountAll, limiter.CountMode)
}

package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/testutils"
)

func TestNew(t *testing.T) {
	cfg := testutils.GetTestConfig()

	t.Run("with logger", func(t *testing.T) {
		logger, _ := testutils.NewTestLogger()
		srv := New(cfg, logger)

		require.NotNil(t, srv)
		assert.Same(t, cfg, srv.cfg)
		assert.NotNil(t, srv.echo)
		assert.Empty(t, srv.Addr())
	})

	t.Run("without logger", func(t *testing.T) {
		srv := New(cfg, nil)
		require.NotNil(t, srv)
		assert.NotNil(t, srv.Echo())
	})
}

func TestServer_Routes(t *testing.T) {
	srv := New(testutils.GetTestConfig(), nil)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, c.Request().Method)
	}
	srv.Get("/r", handler)
	srv.Post("/r", handler)
	srv.Delete("/r", handler)
	srv.Group("/api").GET("/r", handler)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/r"},
		{http.MethodPost, "/r"},
		{http.MethodDelete, "/r"},
		{http.MethodGet, "/api/r"},
	} {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Echo().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.method, rec.Body.String())
		})
	}
}

func TestServer_RecoversFromPanics(t *testing.T) {
	logger, logs := testutils.NewTestLogger()
	srv := New(testutils.GetTestConfig(), logger)
	srv.Get("/boom", func(c echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestServer_ListenAndShutdown(t *testing.T) {
	srv := New(testutils.GetTestConfig(), nil)
	srv.Get("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	require.NoError(t, srv.Listen())
	require.NotEmpty(t, srv.Addr())

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", srv.Addr()))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}

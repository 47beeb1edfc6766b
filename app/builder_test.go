package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/testutils"
	"go.uber.org/fx"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testutils.GetTestConfig()
	// a file so every pooled connection sees the same schema
	cfg.Database.DSN = t.TempDir() + "/tokenauth.db"
	return cfg
}

func TestNewApp(t *testing.T) {
	builder := NewApp()

	assert.NotNil(t, builder)
	assert.True(t, builder.http)
	assert.Nil(t, builder.clock)
	assert.Len(t, builder.models, 2)
	assert.Empty(t, builder.fxOptions)
	assert.Empty(t, builder.errors)
}

func TestAppBuilder_WithConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := testConfig(t)
		builder := NewApp()

		result := builder.WithConfig(cfg)

		assert.Same(t, builder, result)
		assert.Same(t, cfg, builder.config)
	})

	t.Run("nil config", func(t *testing.T) {
		builder := NewApp().WithConfig(nil)

		assert.Nil(t, builder.config)
		require.Len(t, builder.errors, 1)
		assert.Contains(t, builder.errors[0].Error(), "config cannot be nil")

		_, err := builder.Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration errors")
	})
}

func TestAppBuilder_WithClock(t *testing.T) {
	clk := testutils.FakeClock()
	builder := NewApp().WithClock(clk)
	assert.Same(t, clk, builder.clock)

	builder = NewApp().WithClock(nil)
	require.Len(t, builder.errors, 1)
	assert.Contains(t, builder.errors[0].Error(), "clock cannot be nil")
}

func TestAppBuilder_WithModels(t *testing.T) {
	type AuditEntry struct {
		ID   uint `gorm:"primaryKey"`
		Note string
	}

	builder := NewApp().WithModels(&AuditEntry{})
	assert.Len(t, builder.models, 3)
}

func TestAppBuilder_Build(t *testing.T) {
	t.Run("without http", func(t *testing.T) {
		app, err := NewApp().WithConfig(testConfig(t)).WithoutHTTP().Build()
		require.NoError(t, err)

		assert.Nil(t, app.Server())
		assert.NotNil(t, app.Tokens())
		assert.NotNil(t, app.Guard())
		assert.NotNil(t, app.Keys())
		assert.NotNil(t, app.Store())
		assert.NotNil(t, app.Sessions())
		assert.NotNil(t, app.DB())
		assert.NotNil(t, app.Logger())
		assert.Equal(t, "tokenauth-test", app.Config().App.Name)
	})

	t.Run("extra fx options", func(t *testing.T) {
		var got *jwt.Service
		app, err := NewApp().
			WithConfig(testConfig(t)).
			WithoutHTTP().
			WithFxOptions(fx.Invoke(func(s *jwt.Service) { got = s })).
			Build()
		require.NoError(t, err)
		assert.Same(t, app.Tokens(), got)
	})

	t.Run("unsupported database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "oracle"

		_, err := NewApp().WithConfig(cfg).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("unsupported cache", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Cache.Driver = "memcached"

		_, err := NewApp().WithConfig(cfg).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "memcached")
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.JWT.RefreshTokenTTL = cfg.JWT.AccessTokenTTL

		_, err := NewApp().WithConfig(cfg).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REFRESH_TOKEN_TTL")
	})
}

// Package authority wires a complete token authority on top of sqlite and an
// in-memory cache backend for tests that cross package boundaries.
package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/services/revocation"
	"github.com/tech-arch1tect/tokenauth/session"
	"github.com/tech-arch1tect/tokenauth/testutils"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type Authority struct {
	Config      *config.Config
	DB          *gorm.DB
	Clock       *clock.Fake
	Backend     *testutils.FlakyBackend
	Store       *resilient.Store
	Keys        *keys.Manager
	Revocations *revocation.Service
	Sessions    session.Service
	JWT         *jwt.Service
	Logs        *observer.ObservedLogs
}

// New builds an initialized authority. mutate, when given, can adjust the
// configuration before anything is constructed.
func New(t *testing.T, mutate ...func(*config.Config)) *Authority {
	t.Helper()

	cfg := testutils.GetTestConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db := testutils.SetupTestDB(t, &keys.SigningKey{}, &session.Session{})
	clk := testutils.FakeClock()
	logger, logs := testutils.NewTestLogger()

	backend := testutils.NewFlakyBackend(clk)
	t.Cleanup(func() { backend.Close() })

	store, err := resilient.NewStore(backend, resilient.Options{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  cfg.Circuit.RecoveryTimeout(),
		HalfOpenMaxCalls: cfg.Circuit.HalfOpenMaxCalls,
		FallbackSize:     cfg.Circuit.FallbackCacheMaxSize,
		OperationTimeout: time.Second,
	}, logger, clk)
	require.NoError(t, err)

	manager, err := keys.NewManager(db, cfg.Keys, logger, clk)
	require.NoError(t, err)
	require.NoError(t, manager.Initialize(context.Background()))
	t.Cleanup(manager.Stop)

	revocations := revocation.NewService(store, cfg.JWT.RefreshTokenTTL, logger, clk)
	sessions := session.NewService(db, logger, clk)
	t.Cleanup(sessions.Stop)

	return &Authority{
		Config:      cfg,
		DB:          db,
		Clock:       clk,
		Backend:     backend,
		Store:       store,
		Keys:        manager,
		Revocations: revocations,
		Sessions:    sessions,
		JWT:         jwt.NewService(cfg.JWT, manager, revocations, sessions, logger, clk),
		Logs:        logs,
	}
}

// Login issues a token pair with a session for identity in tenant t1.
func (a *Authority) Login(t *testing.T, identity string) *jwt.TokenPair {
	t.Helper()

	pair, err := a.JWT.CreateTokens(context.Background(), identity, session.Info{
		IPAddress: "10.0.0.1",
		UserAgent: "tokenauth-test/1.0",
	}, jwt.WithTenant(testutils.TestIdentities.TenantID))
	require.NoError(t, err)
	return pair
}

package tokenauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/testutils"
	"go.uber.org/fx"
)

func TestNew(t *testing.T) {
	cfg := testutils.GetTestConfig()
	cfg.Database.DSN = t.TempDir() + "/tokenauth.db"
	clk := testutils.FakeClock()

	var manager *keys.Manager
	app, err := New(
		WithConfig(cfg),
		WithClock(clk),
		WithoutHTTP(),
		WithFxOptions(fx.Populate(&manager)),
	)
	require.NoError(t, err)

	assert.Nil(t, app.Server())
	assert.Same(t, cfg, app.Config())
	assert.Same(t, app.Keys(), manager)

	require.NoError(t, app.Start())
	defer app.Stop()

	key, err := manager.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Unix(), key.CreatedAt.Unix())
}

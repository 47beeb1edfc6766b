package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"gorm.io/gorm"
)

func TestModule(t *testing.T) {
	var db *gorm.DB

	app := fxtest.New(t,
		Module,
		fx.Provide(func() *config.Config {
			cfg := createTestConfig("sqlite", ":memory:", true)
			return &cfg
		}),
		fx.Provide(newTestLogger),
		fx.Supply(WithModels(TestModel{})),
		fx.Populate(&db),
	)
	app.RequireStart()

	require.NotNil(t, db)
	assert.True(t, db.Migrator().HasTable(&TestModel{}))

	app.RequireStop()

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "connection should be closed on stop")
}

func TestProvideDatabaseFx(t *testing.T) {
	t.Run("propagates driver errors", func(t *testing.T) {
		cfg := createTestConfig("unsupported", "test", false)

		db, err := ProvideDatabaseFx(fxtest.NewLifecycle(t), &cfg, nil, (*logging.Service)(nil))

		assert.Nil(t, db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})
}

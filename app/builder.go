package app

import (
	"fmt"

	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/database"
	"github.com/tech-arch1tect/tokenauth/handlers"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/middleware/ratelimit"
	"github.com/tech-arch1tect/tokenauth/server"
	"github.com/tech-arch1tect/tokenauth/services/cache"
	"github.com/tech-arch1tect/tokenauth/services/jwt"
	"github.com/tech-arch1tect/tokenauth/services/keys"
	"github.com/tech-arch1tect/tokenauth/services/logging"
	"github.com/tech-arch1tect/tokenauth/services/refreshtoken"
	"github.com/tech-arch1tect/tokenauth/services/resilient"
	"github.com/tech-arch1tect/tokenauth/services/revocation"
	"github.com/tech-arch1tect/tokenauth/session"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config    *config.Config
	clock     clock.Clock
	http      bool
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		http:      true,
		models:    []any{&keys.SigningKey{}, &session.Session{}},
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithClock replaces the system clock for every component.
func (b *AppBuilder) WithClock(c clock.Clock) *AppBuilder {
	if c == nil {
		b.addError("clock cannot be nil")
		return b
	}
	b.clock = c
	return b
}

// WithoutHTTP builds the token services alone, for embedding in a process
// that serves its own routes.
func (b *AppBuilder) WithoutHTTP() *AppBuilder {
	b.http = false
	return b
}

// WithModels migrates extra tables alongside the signing key and session
// tables.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	app := &App{}
	options := b.buildFxOptions(app)

	fxApp := fx.New(options...)
	if err := fxApp.Err(); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}
	app.fx = fxApp

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *AppBuilder) buildFxOptions(app *App) []fx.Option {
	clk := clock.OrReal(b.clock)

	options := []fx.Option{
		fx.NopLogger,
		// nil loads the environment
		config.NewProvider(b.config),
		fx.Provide(func() clock.Clock { return clk }),
		fx.Supply(database.WithModels(b.models...)),
		logging.Module,
		database.Module,
		cache.Module,
		resilient.Module,
		keys.Module,
		revocation.Module,
		session.Module,
		jwt.Module,
		refreshtoken.Module,
	}

	if b.http {
		options = append(options,
			server.NewProvider(),
			ratelimit.Module,
			handlers.Module,
			fx.Populate(&app.server),
		)
	}

	options = append(options, fx.Invoke(func(
		cfg *config.Config,
		logger *logging.Service,
		db *gorm.DB,
		store *resilient.Store,
		manager *keys.Manager,
		tokens *jwt.Service,
		guard *refreshtoken.Guard,
		sessions session.Service,
	) {
		app.config = cfg
		app.logger = logger
		app.db = db
		app.store = store
		app.keys = manager
		app.tokens = tokens
		app.guard = guard
		app.sessions = sessions
	}))

	return append(options, b.fxOptions...)
}

// Package tokenauth is a token authority: RS256 access and refresh tokens
// with rotating signing keys, revocation that survives a cache outage, and
// single-use refresh tokens.
package tokenauth

import (
	"github.com/tech-arch1tect/tokenauth/app"
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"github.com/tech-arch1tect/tokenauth/internal/options"
	"go.uber.org/fx"
)

type App = app.App

// New builds an app. Without WithConfig the configuration is read from the
// environment and an optional .env file.
func New(opts ...options.Option) (*App, error) {
	o := options.Apply(opts...)

	builder := app.NewApp()
	if o.Config != nil {
		builder.WithConfig(o.Config)
	}
	if o.Clock != nil {
		builder.WithClock(o.Clock)
	}
	if o.DisableHTTP {
		builder.WithoutHTTP()
	}
	return builder.
		WithModels(o.ExtraModels...).
		WithFxOptions(o.ExtraFxOptions...).
		Build()
}

func WithConfig(cfg *config.Config) options.Option {
	return options.WithConfig(cfg)
}

func WithClock(c clock.Clock) options.Option {
	return options.WithClock(c)
}

func WithoutHTTP() options.Option {
	return options.WithoutHTTP()
}

func WithModels(models ...any) options.Option {
	return options.WithModels(models...)
}

func WithFxOptions(fxOpts ...fx.Option) options.Option {
	return options.WithFxOptions(fxOpts...)
}

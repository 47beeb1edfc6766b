package options

import (
	"github.com/tech-arch1tect/tokenauth/config"
	"github.com/tech-arch1tect/tokenauth/internal/clock"
	"go.uber.org/fx"
)

type Options struct {
	Config         *config.Config
	Clock          clock.Clock
	DisableHTTP    bool
	ExtraModels    []any
	ExtraFxOptions []fx.Option
}

type Option func(*Options)

func WithConfig(cfg *config.Config) Option {
	return func(opts *Options) {
		opts.Config = cfg
	}
}

func WithClock(c clock.Clock) Option {
	return func(opts *Options) {
		opts.Clock = c
	}
}

func WithoutHTTP() Option {
	return func(opts *Options) {
		opts.DisableHTTP = true
	}
}

func WithModels(models ...any) Option {
	return func(opts *Options) {
		opts.ExtraModels = append(opts.ExtraModels, models...)
	}
}

func WithFxOptions(fxOpts ...fx.Option) Option {
	return func(opts *Options) {
		opts.ExtraFxOptions = append(opts.ExtraFxOptions, fxOpts...)
	}
}

func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

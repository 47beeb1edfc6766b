package config

import "go.uber.org/fx"

// NewProvider supplies the configuration to the fx graph. A caller-supplied
// config is validated but otherwise used as is; without one the environment
// is loaded.
func NewProvider(customConfig *Config) fx.Option {
	if customConfig != nil {
		return fx.Provide(func() (*Config, error) {
			if err := customConfig.Validate(); err != nil {
				return nil, err
			}
			return customConfig, nil
		})
	}

	return fx.Provide(func() (*Config, error) {
		cfg := &Config{}
		if err := LoadConfig(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	})
}

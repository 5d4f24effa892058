package config

import (
	"errors"
	"testing"

	"hyperprime/internal/errs"
)

func validConfig() Config {
	return Config{
		Wallet: WalletConfig{PrivateKey: "0xabc"},
		API:    APIConfig{BaseURL: "https://api.hyperliquid.xyz"},
		Router: RouterConfig{DefaultSlippage: 0.005, MinAllocationSize: 0.001},
		Builder: &BuilderConfig{
			Address: "0x1111111111111111111111111111111111111111",
			FeeBps:  1,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid config passes", func(t *testing.T) {
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing private key", func(c *Config) { c.Wallet.PrivateKey = "" }},
		{"missing base url", func(c *Config) { c.API.BaseURL = "" }},
		{"zero slippage", func(c *Config) { c.Router.DefaultSlippage = 0 }},
		{"negative min allocation", func(c *Config) { c.Router.MinAllocationSize = -1 }},
		{"builder fee too high", func(c *Config) { c.Builder.FeeBps = 11 }},
		{"builder fee negative", func(c *Config) { c.Builder.FeeBps = -1 }},
		{"builder missing address", func(c *Config) { c.Builder.Address = "" }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for case %q", tt.name)
			}
		})
	}

	t.Run("disabled builder skips fee range check", func(t *testing.T) {
		cfg := validConfig()
		cfg.Builder = &BuilderConfig{Disabled: true}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() = %v, want nil for disabled builder", err)
		}
	})

	t.Run("failure is an errs.InvalidConfigError", func(t *testing.T) {
		cfg := validConfig()
		cfg.API.BaseURL = ""
		err := cfg.Validate()
		if !errors.Is(err, errs.ErrInvalidConfig) {
			t.Fatalf("Validate() error = %v, want errors.Is(err, errs.ErrInvalidConfig)", err)
		}
		var target *errs.InvalidConfigError
		if !errors.As(err, &target) {
			t.Fatalf("Validate() error = %v, want *errs.InvalidConfigError", err)
		}
	})
}

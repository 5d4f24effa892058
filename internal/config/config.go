// Package config defines all configuration for the hyperprime router.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via HP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hyperprime/internal/errs"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Testnet bool           `mapstructure:"testnet"`
	DryRun  bool           `mapstructure:"dry_run"`
	Wallet  WalletConfig   `mapstructure:"wallet"`
	API     APIConfig      `mapstructure:"api"`
	Router  RouterConfig   `mapstructure:"router"`
	Builder *BuilderConfig `mapstructure:"builder"` // Load fills in the default system builder when absent; Disabled turns the fee off (an explicit null is not treated as disabled)
	Logging LoggingConfig  `mapstructure:"logging"`
}

// WalletConfig holds the wallet used for signing orders and venue actions.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	Address    string `mapstructure:"wallet_address"`
}

// APIConfig holds venue endpoints.
type APIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	WSURL     string `mapstructure:"ws_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// RouterConfig holds routing, aggregation, and simulation settings.
//
//   - DefaultSlippage: fractional slippage tolerance applied when a caller
//     doesn't specify one (e.g. 0.005 = 0.5%).
//   - AggregateTimeout: per-market book fetch deadline for the aggregator.
//   - QuoteTimeout: per-market book fetch deadline for the router.
//   - MinAllocationSize: dust floor below which a split leg is folded into
//     the largest allocation.
//   - DefaultSwapCostBps / FallbackSwapCostBps: collateral swap-cost
//     estimates used when no live simulation is available.
//
// Only DefaultSlippage is applied (by the prime facade). The other fields
// are loaded, and MinAllocationSize is validated, but the components use
// their own package constants with the same default values instead:
// book.DefaultFetchTimeout, router.DefaultQuoteTimeout,
// split.DefaultMinAllocationSize, and collateral.DefaultSwapCostBps /
// FallbackSwapCostBps.
type RouterConfig struct {
	DefaultSlippage     float64       `mapstructure:"default_slippage"`
	AggregateTimeout    time.Duration `mapstructure:"aggregate_timeout"`
	QuoteTimeout        time.Duration `mapstructure:"quote_timeout"`
	MinAllocationSize   float64       `mapstructure:"min_allocation_size"`
	DefaultSwapCostBps  float64       `mapstructure:"default_swap_cost_bps"`
	FallbackSwapCostBps float64       `mapstructure:"fallback_swap_cost_bps"`
}

// BuilderConfig sets the builder that earns a fee on every order this
// process places. A nil *BuilderConfig in Config means "use the system
// default builder at 1bps"; an explicit `builder: null` in YAML is read by
// viper as a present-but-zero-value Builder, so BuilderConfig carries its
// own Disabled flag to distinguish "absent from YAML" (handled in Config)
// from "present but turned off".
type BuilderConfig struct {
	Disabled bool   `mapstructure:"disabled"`
	Address  string `mapstructure:"address"`
	FeeBps   float64 `mapstructure:"fee_bps"`
}

// DefaultBuilderAddress and DefaultBuilderFeeBps are applied when the
// config omits the builder section entirely.
const (
	DefaultBuilderAddress = "0x0000000000000000000000000000000000000000"
	DefaultBuilderFeeBps  = 1.0
)

type LoggingConfig struct {
	Level  string `mapstructure:"level"` // debug, info, warn, error, silent
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: HP_PRIVATE_KEY, HP_WALLET_ADDRESS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("HP_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if addr := os.Getenv("HP_WALLET_ADDRESS"); addr != "" {
		cfg.Wallet.Address = addr
	}
	if os.Getenv("HP_DRY_RUN") == "true" || os.Getenv("HP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}
	if os.Getenv("HP_TESTNET") == "true" || os.Getenv("HP_TESTNET") == "1" {
		cfg.Testnet = true
	}

	if !v.IsSet("builder") {
		cfg.Builder = &BuilderConfig{Address: DefaultBuilderAddress, FeeBps: DefaultBuilderFeeBps}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("router.default_slippage", 0.005)
	v.SetDefault("router.aggregate_timeout", 2500*time.Millisecond)
	v.SetDefault("router.quote_timeout", 2500*time.Millisecond)
	v.SetDefault("router.min_allocation_size", 0.001)
	v.SetDefault("router.default_swap_cost_bps", 50.0)
	v.SetDefault("router.fallback_swap_cost_bps", 100.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("api.timeout_ms", 10000)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	// private_key is optional (spec: it only "enables writes"), but a
	// read-only session still needs a wallet address to query account state.
	if c.Wallet.PrivateKey == "" && c.Wallet.Address == "" {
		return &errs.InvalidConfigError{Msg: "either wallet.private_key or wallet.wallet_address is required (set HP_PRIVATE_KEY or HP_WALLET_ADDRESS)"}
	}
	if c.API.BaseURL == "" {
		return &errs.InvalidConfigError{Msg: "api.base_url is required"}
	}
	if c.Router.DefaultSlippage <= 0 {
		return &errs.InvalidConfigError{Msg: "router.default_slippage must be > 0"}
	}
	if c.Router.MinAllocationSize < 0 {
		return &errs.InvalidConfigError{Msg: "router.min_allocation_size must be >= 0"}
	}
	if c.Builder != nil && !c.Builder.Disabled {
		if c.Builder.FeeBps < 0 || c.Builder.FeeBps > 10 {
			return &errs.InvalidConfigError{Msg: "builder.fee_bps must be within [0, 10]"}
		}
		if c.Builder.Address == "" {
			return &errs.InvalidConfigError{Msg: "builder.address is required unless builder.disabled is true"}
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "silent":
	default:
		return &errs.InvalidConfigError{Msg: "logging.level must be one of: debug, info, warn, error, silent"}
	}
	return nil
}

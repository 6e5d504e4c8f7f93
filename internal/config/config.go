// Package config loads the exchange's static configuration from a YAML file
// (default: configs/config.yaml) with override fields settable via EXCH_*
// environment variables, and holds the mutable runtime parameters (transfer
// fee, IPO defaults, price-limit policy, trading windows) behind an
// atomically-swapped snapshot that the matching engine consults without
// ever blocking on a lock.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sitcon-tw/camp-exchange/pkg/xchg"
)

// StaticConfig holds the parts of configuration that are fixed for the
// lifetime of the process: where to persist state, how to log, and which
// port to serve the API on. Maps directly to the YAML file structure.
type StaticConfig struct {
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
	Initial InitialConfig `mapstructure:"initial"`
}

// StoreConfig points at the sqlite database file backing the repository.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig controls the HTTP/WebSocket read+write surface.
type APIConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MetricsPort    int      `mapstructure:"metrics_port"`
}

// InitialConfig seeds the first mutable ConfigSnapshot at startup. After
// boot, admin operations replace it entirely and this struct is never
// consulted again.
type InitialConfig struct {
	TransferFeeRateBps  int64           `mapstructure:"transfer_fee_rate_bps"`
	TransferMinFee      int64           `mapstructure:"transfer_min_fee"`
	IPOShares           int64           `mapstructure:"ipo_shares"`
	IPOUnitPrice        int64           `mapstructure:"ipo_unit_price"`
	FlatLimitPercent    float64         `mapstructure:"flat_limit_percent"`
	Tiers               []InitialTier   `mapstructure:"tiers"`
	DefaultLimitPercent float64         `mapstructure:"default_limit_percent"`
	TradingWindows      []InitialWindow `mapstructure:"trading_windows"`
	SweepIntervalSec    int64           `mapstructure:"sweep_interval_sec"`
}

type InitialTier struct {
	MinPrice int64   `mapstructure:"min_price"`
	MaxPrice int64   `mapstructure:"max_price"`
	Percent  float64 `mapstructure:"percent"`
}

type InitialWindow struct {
	Start string `mapstructure:"start"` // RFC3339
	End   string `mapstructure:"end"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*StaticConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg StaticConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *StaticConfig) Validate() error {
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	if c.API.Port == 0 {
		return fmt.Errorf("api.port is required")
	}
	if c.Initial.TransferFeeRateBps < 0 || c.Initial.TransferFeeRateBps > 10000 {
		return fmt.Errorf("initial.transfer_fee_rate_bps must be in [0, 10000]")
	}
	if c.Initial.TransferMinFee < 1 {
		return fmt.Errorf("initial.transfer_min_fee must be >= 1")
	}
	if c.Initial.IPOShares < 0 {
		return fmt.Errorf("initial.ipo_shares must be >= 0")
	}
	if c.Initial.IPOUnitPrice < 1 {
		return fmt.Errorf("initial.ipo_unit_price must be >= 1")
	}
	hasFlat := c.Initial.FlatLimitPercent > 0
	hasTiers := len(c.Initial.Tiers) > 0
	if hasFlat && hasTiers {
		return fmt.Errorf("initial config cannot set both flat_limit_percent and tiers")
	}
	if !hasFlat && !hasTiers {
		return fmt.Errorf("initial config must set one of flat_limit_percent or tiers")
	}
	if err := validateTiers(c.Initial.Tiers); err != nil {
		return err
	}
	if hasTiers && (c.Initial.DefaultLimitPercent <= 0 || c.Initial.DefaultLimitPercent > 100) {
		return fmt.Errorf("initial.default_limit_percent must be in (0, 100] when tiers are set")
	}
	for _, w := range c.Initial.TradingWindows {
		start, err := time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return fmt.Errorf("trading window start %q: %w", w.Start, err)
		}
		end, err := time.Parse(time.RFC3339, w.End)
		if err != nil {
			return fmt.Errorf("trading window end %q: %w", w.End, err)
		}
		if !start.Before(end) {
			return fmt.Errorf("trading window start must be before end: %s .. %s", w.Start, w.End)
		}
	}
	return nil
}

// ToSnapshot converts the loaded initial config into the first
// ConfigSnapshot the Store will publish.
func (c *StaticConfig) ToSnapshot() (xchg.ConfigSnapshot, error) {
	policy := xchg.PriceLimitPolicy{}
	if c.Initial.FlatLimitPercent > 0 {
		policy.Flat = true
		policy.FlatPercent = c.Initial.FlatLimitPercent
	} else {
		tiers := make([]xchg.PriceTier, 0, len(c.Initial.Tiers))
		for _, t := range c.Initial.Tiers {
			tiers = append(tiers, xchg.PriceTier{MinPrice: t.MinPrice, MaxPrice: t.MaxPrice, Percent: t.Percent})
		}
		policy.Tiers = tiers
		policy.DefaultPercent = c.Initial.DefaultLimitPercent
	}

	windows := make([]xchg.TradingWindow, 0, len(c.Initial.TradingWindows))
	for _, w := range c.Initial.TradingWindows {
		start, err := time.Parse(time.RFC3339, w.Start)
		if err != nil {
			return xchg.ConfigSnapshot{}, fmt.Errorf("trading window start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, w.End)
		if err != nil {
			return xchg.ConfigSnapshot{}, fmt.Errorf("trading window end: %w", err)
		}
		windows = append(windows, xchg.TradingWindow{Start: start, End: end})
	}

	interval := time.Duration(c.Initial.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	return xchg.ConfigSnapshot{
		TransferFeeRateBps: c.Initial.TransferFeeRateBps,
		TransferMinFee:     c.Initial.TransferMinFee,
		PriceLimitPolicy:   policy,
		IPODefaultShares:   c.Initial.IPOShares,
		IPODefaultPrice:    c.Initial.IPOUnitPrice,
		TradingWindows:     windows,
		SweepInterval:      interval,
	}, nil
}

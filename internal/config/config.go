// Package config provides configuration management for the wheel bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/wheelbot/internal/broker"
	"github.com/eddiefleurent/wheelbot/internal/logging"
	"github.com/eddiefleurent/wheelbot/internal/marketdata"
	"github.com/eddiefleurent/wheelbot/internal/orders"
	"github.com/eddiefleurent/wheelbot/internal/storage"
	"github.com/eddiefleurent/wheelbot/internal/strategy"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

const (
	ProviderIBKR = "ibkr"
	ProviderMock = "mock"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Logging     LoggingConfig     `yaml:"logging"`
	Broker      BrokerConfig      `yaml:"broker"`
	Strategy    StrategyParams    `yaml:"strategy"`
	MarketData  MarketDataParams  `yaml:"market_data"`
	Run         RunConfig         `yaml:"run"`
	Storage     StorageConfig     `yaml:"storage"`
	Status      StatusConfig      `yaml:"status"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode string `yaml:"mode"` // paper | live
}

// LoggingConfig defines log level, format and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider       string        `yaml:"provider"` // ibkr | mock
	BaseURL        string        `yaml:"base_url"`
	AccountID      string        `yaml:"account_id"`
	MarketDataMode int           `yaml:"market_data_mode"`
	InsecureTLS    bool          `yaml:"insecure_tls"`
	Timeout        time.Duration `yaml:"timeout"`
	CircuitBreaker bool          `yaml:"circuit_breaker"`
}

// StrategyParams defines the wheel parameters.
type StrategyParams struct {
	Tickers           []string `yaml:"tickers"`
	Quantity          int      `yaml:"quantity"`
	TargetDelta       float64  `yaml:"target_delta"`
	PutDTE            []int    `yaml:"put_dte"`
	CallDelta         float64  `yaml:"call_delta"`
	CallDTE           []int    `yaml:"call_dte"`
	Markup            float64  `yaml:"markup"`
	TakeProfit        float64  `yaml:"take_profit"`
	RollDTEThreshold  int      `yaml:"roll_dte_threshold"`
	RiskFreeRate      float64  `yaml:"risk_free_rate"`
	DefaultVolatility float64  `yaml:"default_volatility"`
	VolLookbackDays   int      `yaml:"vol_lookback_days"`
	OrderTag          string   `yaml:"order_tag"`
	TickSize          float64  `yaml:"tick_size"`
	MinPrice          float64  `yaml:"min_price"`
}

// MarketDataParams defines quote polling bounds.
type MarketDataParams struct {
	StreamInterval     time.Duration `yaml:"stream_interval"`
	StreamTimeout      time.Duration `yaml:"stream_timeout"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval"`
	SnapshotTimeout    time.Duration `yaml:"snapshot_timeout"`
	OptionQuoteTimeout time.Duration `yaml:"option_quote_timeout"`
	VerifyGreeks       bool          `yaml:"verify_greeks"`
	GreeksInterval     time.Duration `yaml:"greeks_interval"`
	GreeksTimeout      time.Duration `yaml:"greeks_timeout"`
}

// RunConfig defines the loop cadence.
type RunConfig struct {
	DryRun          bool `yaml:"dry_run"`
	LoopIntervalSec int  `yaml:"loop_interval_sec"` // 0 runs a single pass
}

// StorageConfig defines where symbol state is persisted.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// StatusConfig defines the optional HTTP status server.
type StatusConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
}

// Default returns a complete configuration. Load decodes the file over it,
// so omitted keys keep these values.
func Default() *Config {
	s := strategy.DefaultConfig()
	md := marketdata.DefaultConfig()
	lg := logging.DefaultConfig()
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper"},
		Logging: LoggingConfig{
			Level:      lg.Level,
			Format:     lg.Format,
			MaxSizeMB:  lg.MaxSizeMB,
			MaxBackups: lg.MaxBackups,
			MaxAgeDays: lg.MaxAgeDays,
		},
		Broker: BrokerConfig{
			Provider:       ProviderIBKR,
			BaseURL:        broker.DefaultIBKRBaseURL,
			MarketDataMode: int(broker.MarketDataDelayedFrozen),
			InsecureTLS:    true,
			Timeout:        15 * time.Second,
			CircuitBreaker: true,
		},
		Strategy: StrategyParams{
			Tickers:           []string{"SPY"},
			Quantity:          s.Quantity,
			TargetDelta:       s.Put.TargetDelta,
			PutDTE:            []int{s.Put.MinDTE, s.Put.MaxDTE},
			CallDelta:         s.Call.TargetDelta,
			CallDTE:           []int{s.Call.MinDTE, s.Call.MaxDTE},
			Markup:            s.Markup,
			TakeProfit:        s.TakeProfit,
			RollDTEThreshold:  s.RollDTEThreshold,
			RiskFreeRate:      s.RiskFreeRate,
			DefaultVolatility: s.DefaultVolatility,
			VolLookbackDays:   s.VolLookbackDays,
			OrderTag:          s.OrderTag,
			TickSize:          orders.DefaultTick,
			MinPrice:          orders.DefaultMinPrice,
		},
		MarketData: MarketDataParams{
			StreamInterval:     md.StreamInterval,
			StreamTimeout:      md.StreamTimeout,
			SnapshotInterval:   md.SnapshotInterval,
			SnapshotTimeout:    md.SnapshotTimeout,
			OptionQuoteTimeout: md.OptionQuoteTimeout,
			GreeksInterval:     md.GreeksInterval,
			GreeksTimeout:      md.GreeksTimeout,
		},
		Run:     RunConfig{DryRun: true, LoopIntervalSec: 300},
		Storage: StorageConfig{Backend: storage.BackendJSON, Path: "wheel_state.json"},
		Status:  StatusConfig{Addr: ":8080"},
	}
}

// LoadDotEnv loads a .env file into the process environment. A missing file
// is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML with environment expansion and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// normalize cleans values that have an obvious canonical form.
func (c *Config) normalize() {
	seen := make(map[string]bool, len(c.Strategy.Tickers))
	tickers := make([]string, 0, len(c.Strategy.Tickers))
	for _, raw := range c.Strategy.Tickers {
		for _, part := range strings.Split(raw, ",") {
			sym := strings.ToUpper(strings.TrimSpace(part))
			if sym == "" || seen[sym] {
				continue
			}
			seen[sym] = true
			tickers = append(tickers, sym)
		}
	}
	c.Strategy.Tickers = tickers
	c.Environment.Mode = strings.ToLower(strings.TrimSpace(c.Environment.Mode))
	c.Broker.Provider = strings.ToLower(strings.TrimSpace(c.Broker.Provider))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Strategy.OrderTag = strings.TrimSpace(c.Strategy.OrderTag)
}

func validDTE(key string, r []int) error {
	if len(r) != 2 || r[0] < 0 || r[1] < r[0] {
		return fmt.Errorf("%s must be [min,max] with 0 <= min <= max", key)
	}
	return nil
}

// Validate normalizes the configuration and checks that all values are usable.
func (c *Config) Validate() error {
	c.normalize()

	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "" && f != "text" && f != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json'")
	}

	// Broker validation
	switch c.Broker.Provider {
	case ProviderIBKR:
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required for provider ibkr")
		}
	case ProviderMock:
	default:
		return fmt.Errorf("broker.provider must be 'ibkr' or 'mock'")
	}
	if !broker.MarketDataMode(c.Broker.MarketDataMode).Valid() {
		return fmt.Errorf("broker.market_data_mode must be 1-4")
	}
	if c.Broker.Timeout < 0 {
		return fmt.Errorf("broker.timeout must be >= 0")
	}

	// Strategy validation
	s := c.Strategy
	if len(s.Tickers) == 0 {
		return fmt.Errorf("strategy.tickers must list at least one symbol")
	}
	if s.Quantity < 1 {
		return fmt.Errorf("strategy.quantity must be >= 1")
	}
	if s.TargetDelta <= 0 || s.TargetDelta >= 1 {
		return fmt.Errorf("strategy.target_delta must be in (0,1)")
	}
	if s.CallDelta <= 0 || s.CallDelta >= 1 {
		return fmt.Errorf("strategy.call_delta must be in (0,1)")
	}
	if err := validDTE("strategy.put_dte", s.PutDTE); err != nil {
		return err
	}
	if err := validDTE("strategy.call_dte", s.CallDTE); err != nil {
		return err
	}
	if s.Markup < 0 {
		return fmt.Errorf("strategy.markup must be >= 0")
	}
	if s.TakeProfit <= 0 || s.TakeProfit >= 1 {
		return fmt.Errorf("strategy.take_profit must be in (0,1)")
	}
	if s.RollDTEThreshold < 0 {
		return fmt.Errorf("strategy.roll_dte_threshold must be >= 0")
	}
	if s.DefaultVolatility <= 0 {
		return fmt.Errorf("strategy.default_volatility must be > 0")
	}
	if s.VolLookbackDays < 2 {
		return fmt.Errorf("strategy.vol_lookback_days must be >= 2")
	}
	if s.OrderTag == "" {
		return fmt.Errorf("strategy.order_tag is required")
	}
	if s.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be > 0")
	}
	if s.MinPrice < s.TickSize {
		return fmt.Errorf("strategy.min_price must be >= strategy.tick_size")
	}

	// Market data validation
	md := c.MarketData
	for key, d := range map[string]time.Duration{
		"market_data.stream_interval":      md.StreamInterval,
		"market_data.stream_timeout":       md.StreamTimeout,
		"market_data.snapshot_interval":    md.SnapshotInterval,
		"market_data.snapshot_timeout":     md.SnapshotTimeout,
		"market_data.option_quote_timeout": md.OptionQuoteTimeout,
		"market_data.greeks_interval":      md.GreeksInterval,
		"market_data.greeks_timeout":       md.GreeksTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}

	// Run, storage and status validation
	if c.Run.LoopIntervalSec < 0 {
		return fmt.Errorf("run.loop_interval_sec must be >= 0")
	}
	if c.Storage.Backend != storage.BackendJSON && c.Storage.Backend != storage.BackendSQLite {
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when status.enabled")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// LoopInterval returns the pause between passes; zero means a single pass.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.Run.LoopIntervalSec) * time.Second
}

// StrategyConfig returns the immutable strategy configuration.
func (c *Config) StrategyConfig() strategy.Config {
	s := c.Strategy
	return strategy.Config{
		Quantity:          s.Quantity,
		Put:               strategy.LegConfig{TargetDelta: s.TargetDelta, MinDTE: s.PutDTE[0], MaxDTE: s.PutDTE[1]},
		Call:              strategy.LegConfig{TargetDelta: s.CallDelta, MinDTE: s.CallDTE[0], MaxDTE: s.CallDTE[1]},
		Markup:            s.Markup,
		TakeProfit:        s.TakeProfit,
		RollDTEThreshold:  s.RollDTEThreshold,
		RiskFreeRate:      s.RiskFreeRate,
		DefaultVolatility: s.DefaultVolatility,
		VolLookbackDays:   s.VolLookbackDays,
		OrderTag:          s.OrderTag,
		VerifyGreeks:      c.MarketData.VerifyGreeks,
	}
}

// MarketDataConfig returns the polling bounds.
func (c *Config) MarketDataConfig() marketdata.Config {
	md := c.MarketData
	return marketdata.Config{
		StreamInterval:     md.StreamInterval,
		StreamTimeout:      md.StreamTimeout,
		SnapshotInterval:   md.SnapshotInterval,
		SnapshotTimeout:    md.SnapshotTimeout,
		OptionQuoteTimeout: md.OptionQuoteTimeout,
		GreeksInterval:     md.GreeksInterval,
		GreeksTimeout:      md.GreeksTimeout,
		DefaultVolatility:  c.Strategy.DefaultVolatility,
	}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	l := c.Logging
	return logging.Config{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// IBKRConfig returns the Client Portal client settings.
func (c *Config) IBKRConfig() broker.IBKRConfig {
	return broker.IBKRConfig{
		BaseURL:     c.Broker.BaseURL,
		AccountID:   c.Broker.AccountID,
		InsecureTLS: c.Broker.InsecureTLS,
		Timeout:     c.Broker.Timeout,
	}
}

// Composer returns the limit price composer.
func (c *Config) Composer() orders.Composer {
	return orders.Composer{Tick: c.Strategy.TickSize, MinPrice: c.Strategy.MinPrice}
}

// SubmitterConfig returns the order submitter settings.
func (c *Config) SubmitterConfig() orders.Config {
	cfg := orders.DefaultConfig
	cfg.DryRun = c.Run.DryRun
	return cfg
}

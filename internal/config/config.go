package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the moneta simulator.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Risk     RiskConfig     `yaml:"risk"`
	Backtest BacktestConfig `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RiskConfig defines the position sizing and exposure limits consumed by the
// risk manager. All values are validated at startup; invalid values are fatal
// before any simulation runs.
type RiskConfig struct {
	RiskPctPerTrade      float64 `yaml:"risk_pct_per_trade"`      // (0,1)
	MaxPositions         int     `yaml:"max_positions"`           // > 0
	ATRMultiplier        float64 `yaml:"atr_multiplier"`          // > 0
	CashBufferPct        float64 `yaml:"cash_buffer_pct"`         // [0,1)
	ProfitRatio          float64 `yaml:"profit_ratio"`            // > 0
	MaxSinglePositionPct float64 `yaml:"max_single_position_pct"` // (0,100]
	ATRPeriod            int     `yaml:"atr_period"`              // > 1
}

// BacktestConfig defines simulation defaults.
type BacktestConfig struct {
	InitialCapital float64 `yaml:"initial_capital"`
	CommissionRate float64 `yaml:"commission_rate"` // [0,1)
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	PortfolioName  string  `yaml:"portfolio_name"`
}

// Default returns a Config carrying the simulator defaults. Load applies the
// YAML file and env overrides on top of these.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "moneta.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Risk: RiskConfig{
			RiskPctPerTrade:      0.02,
			MaxPositions:         5,
			ATRMultiplier:        2.0,
			CashBufferPct:        0.10,
			ProfitRatio:          2.0,
			MaxSinglePositionPct: 20.0,
			ATRPeriod:            14,
		},
		Backtest: BacktestConfig{
			InitialCapital: 10000,
			CommissionRate: 0.0,
			RiskFreeRate:   0.02,
			PortfolioName:  "default",
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it on top
// of the defaults, applies environment variable overrides, and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.InitialCapital = f
		}
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks every risk and backtest parameter against its allowed
// range. Any violation is a configuration error and must abort startup.
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return err
	}

	b := c.Backtest
	if b.InitialCapital <= 0 {
		return fmt.Errorf("config: initial_capital %v must be positive", b.InitialCapital)
	}
	if b.CommissionRate < 0 || b.CommissionRate >= 1 {
		return fmt.Errorf("config: commission_rate %v outside [0,1)", b.CommissionRate)
	}
	return nil
}

// Validate checks the risk parameters against their allowed ranges.
func (r RiskConfig) Validate() error {
	if r.RiskPctPerTrade <= 0 || r.RiskPctPerTrade >= 1 {
		return fmt.Errorf("config: risk_pct_per_trade %v outside (0,1)", r.RiskPctPerTrade)
	}
	if r.MaxPositions <= 0 {
		return fmt.Errorf("config: max_positions %d must be positive", r.MaxPositions)
	}
	if r.ATRMultiplier <= 0 {
		return fmt.Errorf("config: atr_multiplier %v must be positive", r.ATRMultiplier)
	}
	if r.CashBufferPct < 0 || r.CashBufferPct >= 1 {
		return fmt.Errorf("config: cash_buffer_pct %v outside [0,1)", r.CashBufferPct)
	}
	if r.ProfitRatio <= 0 {
		return fmt.Errorf("config: profit_ratio %v must be positive", r.ProfitRatio)
	}
	if r.MaxSinglePositionPct <= 0 || r.MaxSinglePositionPct > 100 {
		return fmt.Errorf("config: max_single_position_pct %v outside (0,100]", r.MaxSinglePositionPct)
	}
	if r.ATRPeriod <= 1 {
		return fmt.Errorf("config: atr_period %d must be greater than 1", r.ATRPeriod)
	}
	return nil
}

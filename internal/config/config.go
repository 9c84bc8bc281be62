package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"strategylab/internal/domain"
)

// DefaultPath is the config file used when STRATEGYLAB_CONFIG is unset.
const DefaultPath = "config/strategylab.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for strategylab.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Gather   GatherConfig   `yaml:"gather"`
	Backtest BacktestConfig `yaml:"backtest"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig controls historical data loading.
type GatherConfig struct {
	Source          string        `yaml:"source"` // "alpaca" or "parquet"
	MaxWorkers      int           `yaml:"max_workers"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	CacheBars       bool          `yaml:"cache_bars"`
}

// BacktestConfig holds run defaults applied to requests that omit them.
type BacktestConfig struct {
	InitialBalance  float64 `yaml:"initial_balance"`
	CommissionRate  float64 `yaml:"commission_rate"`
	SlippageRate    float64 `yaml:"slippage_rate"`
	Interval        string  `yaml:"interval"`
	MaxParallel     int     `yaml:"max_parallel"`
	RiskRewardRatio float64 `yaml:"risk_reward_ratio"`
	MaxPositionPct  float64 `yaml:"max_position_pct"`
}

// JobsConfig controls the async job store.
type JobsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Apply fills the fields of rc that a request left at zero from these
// defaults. Explicit request values always win.
func (b BacktestConfig) Apply(rc domain.RunConfig) domain.RunConfig {
	if rc.InitialBalance == 0 {
		rc.InitialBalance = b.InitialBalance
	}
	if rc.CommissionRate == 0 {
		rc.CommissionRate = b.CommissionRate
	}
	if rc.SlippageRate == 0 {
		rc.SlippageRate = b.SlippageRate
	}
	if rc.Interval == "" {
		rc.Interval = b.Interval
	}
	if rc.Risk.RiskRewardRatio == 0 {
		rc.Risk.RiskRewardRatio = b.RiskRewardRatio
	}
	if rc.Risk.MaxPositionPct == 0 {
		rc.Risk.MaxPositionPct = b.MaxPositionPct
	}
	return rc
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config path from STRATEGYLAB_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("STRATEGYLAB_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct on top of Defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/strategylab.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		Alpaca: Alpaca{
			Feed: "sip",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Gather: GatherConfig{
			Source:          "parquet",
			MaxWorkers:      4,
			FetchTimeout:    30 * time.Second,
			MaxAttempts:     3,
			RetryDelay:      500 * time.Millisecond,
			RateLimitPerMin: 200,
		},
		Backtest: BacktestConfig{
			InitialBalance:  10000,
			CommissionRate:  0.0004,
			SlippageRate:    0.0001,
			Interval:        "1h",
			MaxParallel:     4,
			RiskRewardRatio: 2.0,
			MaxPositionPct:  0.25,
		},
		Jobs: JobsConfig{
			TTL:           time.Hour,
			SweepInterval: time.Minute,
		},
	}
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

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("GATHER_SOURCE"); v != "" {
		cfg.Gather.Source = v
	}

	if v := os.Getenv("BACKTEST_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Backtest.MaxParallel = n
		}
	}

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	// Standard Alpaca env vars (highest priority; canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

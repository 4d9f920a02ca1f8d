package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"varengine/internal/risk"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the varengine tools and server.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Alpaca  Alpaca       `yaml:"alpaca"`
	Yahoo   Yahoo        `yaml:"yahoo"`
	Logging Logging      `yaml:"logging"`
	Loader  LoaderConfig `yaml:"loader"`
	Risk    RiskConfig   `yaml:"risk"`
}

// Storage holds paths for the bar cache and the fetch log.
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

// Alpaca holds credentials and the market data endpoint.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Enabled reports whether credentials are present.
func (a Alpaca) Enabled() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Yahoo configures the public chart endpoint used for indices, FX and
// anything Alpaca does not carry.
type Yahoo struct {
	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoaderConfig controls how return series are fetched and cached.
type LoaderConfig struct {
	Source          string        `yaml:"source"` // "auto", "alpaca" or "yahoo"
	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	Lookback        string        `yaml:"lookback"` // default start when none is given, e.g. "2y"
}

// RiskConfig holds the estimator policy values.
type RiskConfig struct {
	Confidences         []float64 `yaml:"confidences"`
	PrimaryConfidence   float64   `yaml:"primary_confidence"`
	MinObservations     int       `yaml:"min_observations"`
	Simulations         int       `yaml:"simulations"`
	Horizon             int       `yaml:"horizon"`
	Paths               int       `yaml:"paths"`
	PathHorizon         int       `yaml:"path_horizon"`
	BasePrice           float64   `yaml:"base_price"`
	DivergenceThreshold float64   `yaml:"divergence_threshold"`
	// Seed makes every run reproducible when set.
	Seed *uint64 `yaml:"seed"`
	// MaxLossPct flags reports whose primary VaR exceeds this fraction. Zero
	// disables the check.
	MaxLossPct float64 `yaml:"max_loss_pct"`

	// Request limits. Larger sims, horizon, paths or days are rejected.
	MaxSimulations int `yaml:"max_simulations"`
	MaxHorizon     int `yaml:"max_horizon"`
	MaxPaths       int `yaml:"max_paths"`
	MaxPathHorizon int `yaml:"max_path_horizon"`
}

// Params converts the section to estimator parameters.
func (r RiskConfig) Params() risk.Params {
	return risk.Params{
		MinObservations:     r.MinObservations,
		Simulations:         r.Simulations,
		Horizon:             r.Horizon,
		Paths:               r.Paths,
		PathHorizon:         r.PathHorizon,
		BasePrice:           r.BasePrice,
		DivergenceThreshold: r.DivergenceThreshold,
		PrimaryConfidence:   r.PrimaryConfidence,
		Confidences:         r.Confidences,
	}.WithDefaults()
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	return cfg, nil
}

// Default returns a configuration built only from defaults and the
// environment, for tools run without a config file.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("YAHOO_BASE_URL"); v != "" {
		cfg.Yahoo.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("VARENGINE_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("VARENGINE_SEED: %w", err)
		}
		cfg.Risk.Seed = &seed
	}

	// Standard Alpaca env vars, the canonical names used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ApplyDefaults fills zero fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/varengine.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.GRPCPort == 0 {
		c.Server.GRPCPort = 9090
	}
	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Yahoo.BaseURL == "" {
		c.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	l := &c.Loader
	if l.Source == "" {
		l.Source = "auto"
	}
	if l.Timeout == 0 {
		l.Timeout = 20 * time.Second
	}
	if l.MaxAttempts == 0 {
		l.MaxAttempts = 3
	}
	if l.RetryBaseDelay == 0 {
		l.RetryBaseDelay = 500 * time.Millisecond
	}
	if l.RateLimitPerMin == 0 {
		l.RateLimitPerMin = 120
	}
	if l.BreakerFailures == 0 {
		l.BreakerFailures = 5
	}
	if l.BreakerTimeout == 0 {
		l.BreakerTimeout = 30 * time.Second
	}
	if l.CacheTTL == 0 {
		l.CacheTTL = 12 * time.Hour
	}
	if l.Lookback == "" {
		l.Lookback = "2y"
	}

	r := &c.Risk
	if r.MaxSimulations == 0 {
		r.MaxSimulations = risk.DefaultMaxSimulations
	}
	if r.MaxHorizon == 0 {
		r.MaxHorizon = risk.DefaultMaxHorizon
	}
	if r.MaxPaths == 0 {
		r.MaxPaths = risk.DefaultMaxPaths
	}
	if r.MaxPathHorizon == 0 {
		r.MaxPathHorizon = risk.DefaultMaxPathHorizon
	}

	p := c.Risk.Params()
	c.Risk.Confidences = p.Confidences
	c.Risk.PrimaryConfidence = p.PrimaryConfidence
	c.Risk.MinObservations = p.MinObservations
	c.Risk.Simulations = p.Simulations
	c.Risk.Horizon = p.Horizon
	c.Risk.Paths = p.Paths
	c.Risk.PathHorizon = p.PathHorizon
	c.Risk.BasePrice = p.BasePrice
	c.Risk.DivergenceThreshold = p.DivergenceThreshold
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	for _, lvl := range c.Risk.Confidences {
		if !(lvl > 0 && lvl < 1) {
			errs = append(errs, fmt.Errorf("risk.confidences: %v outside (0,1)", lvl))
		}
	}
	if !(c.Risk.PrimaryConfidence > 0 && c.Risk.PrimaryConfidence < 1) {
		errs = append(errs, fmt.Errorf("risk.primary_confidence: %v outside (0,1)", c.Risk.PrimaryConfidence))
	}
	if c.Risk.MinObservations < 2 {
		errs = append(errs, fmt.Errorf("risk.min_observations: %d, need at least 2", c.Risk.MinObservations))
	}
	if c.Risk.Simulations < 0 || c.Risk.Horizon < 0 || c.Risk.Paths < 0 || c.Risk.PathHorizon < 0 {
		errs = append(errs, errors.New("risk: simulation counts and horizons must be positive"))
	}
	limits := []struct {
		name       string
		value, max int
	}{
		{"simulations", c.Risk.Simulations, c.Risk.MaxSimulations},
		{"horizon", c.Risk.Horizon, c.Risk.MaxHorizon},
		{"paths", c.Risk.Paths, c.Risk.MaxPaths},
		{"path_horizon", c.Risk.PathHorizon, c.Risk.MaxPathHorizon},
	}
	for _, l := range limits {
		if l.max < 1 {
			errs = append(errs, fmt.Errorf("risk.max_%s: %d, need at least 1", l.name, l.max))
		} else if l.value > l.max {
			errs = append(errs, fmt.Errorf("risk.%s: %d exceeds risk.max_%s %d", l.name, l.value, l.name, l.max))
		}
	}
	if c.Risk.BasePrice < 0 {
		errs = append(errs, fmt.Errorf("risk.base_price: %v is negative", c.Risk.BasePrice))
	}
	if c.Risk.DivergenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("risk.divergence_threshold: %v is negative", c.Risk.DivergenceThreshold))
	}
	if c.Risk.MaxLossPct < 0 || c.Risk.MaxLossPct >= 1 {
		errs = append(errs, fmt.Errorf("risk.max_loss_pct: %v outside [0,1)", c.Risk.MaxLossPct))
	}
	switch c.Loader.Source {
	case "auto", "alpaca", "yahoo":
	default:
		errs = append(errs, fmt.Errorf("loader.source: unknown source %q", c.Loader.Source))
	}
	if c.Loader.Source == "alpaca" && !c.Alpaca.Enabled() {
		errs = append(errs, errors.New("loader.source is alpaca but no alpaca credentials are set"))
	}
	if c.Loader.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("loader.max_attempts: %d, need at least 1", c.Loader.MaxAttempts))
	}
	return errors.Join(errs...)
}

// ResolvePath returns the config file path from VARENGINE_CONFIG or the
// conventional location.
func ResolvePath() string {
	if p := os.Getenv("VARENGINE_CONFIG"); p != "" {
		return p
	}
	return "config/varengine.yaml"
}

// LoadOrDefault loads path when it exists and falls back to Default
// otherwise. The result is validated either way.
func LoadOrDefault(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = Load(path)
	} else if errors.Is(statErr, os.ErrNotExist) {
		cfg, err = Default()
	} else {
		return nil, statErr
	}
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

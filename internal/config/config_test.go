package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "varengine.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "ALPACA_DATA_URL", "YAHOO_BASE_URL",
		"LOG_LEVEL", "VARENGINE_SEED", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/varengine/data"
  sqlite_path: "/tmp/varengine/varengine.db"
server:
  host: "0.0.0.0"
  port: 8181
  grpc_port: 9191
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  data_url: "https://data.alpaca.markets"
  feed: "sip"
logging:
  level: "debug"
  format: "text"
loader:
  source: "yahoo"
  timeout: 5s
  max_attempts: 4
  rate_limit_per_min: 30
  cache_ttl: 1h
risk:
  confidences: [0.9, 0.95, 0.99]
  primary_confidence: 0.99
  min_observations: 60
  simulations: 50000
  horizon: 5
  paths: 2000
  path_horizon: 10
  divergence_threshold: 0.015
  seed: 42
  max_loss_pct: 0.05
  max_paths: 5000
  max_path_horizon: 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/varengine/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/varengine/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/varengine/varengine.db" {
		t.Errorf("Storage.SQLitePath = %q, want %q", cfg.Storage.SQLitePath, "/tmp/varengine/varengine.db")
	}

	// -- Server --
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8181)
	}
	if cfg.Server.GRPCPort != 9191 {
		t.Errorf("Server.GRPCPort = %d, want %d", cfg.Server.GRPCPort, 9191)
	}

	// -- Alpaca --
	if !cfg.Alpaca.Enabled() {
		t.Error("Alpaca.Enabled() = false, want true")
	}
	if cfg.Alpaca.Feed != "sip" {
		t.Errorf("Alpaca.Feed = %q, want %q", cfg.Alpaca.Feed, "sip")
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Loader --
	if cfg.Loader.Source != "yahoo" {
		t.Errorf("Loader.Source = %q, want %q", cfg.Loader.Source, "yahoo")
	}
	if cfg.Loader.Timeout != 5*time.Second {
		t.Errorf("Loader.Timeout = %v, want %v", cfg.Loader.Timeout, 5*time.Second)
	}
	if cfg.Loader.CacheTTL != time.Hour {
		t.Errorf("Loader.CacheTTL = %v, want %v", cfg.Loader.CacheTTL, time.Hour)
	}
	if cfg.Loader.BreakerFailures != 5 {
		t.Errorf("Loader.BreakerFailures = %d, want default %d", cfg.Loader.BreakerFailures, 5)
	}

	// -- Risk --
	p := cfg.Risk.Params()
	if len(p.Confidences) != 3 || p.Confidences[2] != 0.99 {
		t.Errorf("Params().Confidences = %v, want [0.9 0.95 0.99]", p.Confidences)
	}
	if p.PrimaryConfidence != 0.99 {
		t.Errorf("Params().PrimaryConfidence = %v, want %v", p.PrimaryConfidence, 0.99)
	}
	if p.MinObservations != 60 || p.Simulations != 50000 || p.Horizon != 5 {
		t.Errorf("Params() = %+v, want min 60, sims 50000, horizon 5", p)
	}
	if p.BasePrice != 100 {
		t.Errorf("Params().BasePrice = %v, want default 100", p.BasePrice)
	}
	if p.DivergenceThreshold != 0.015 {
		t.Errorf("Params().DivergenceThreshold = %v, want %v", p.DivergenceThreshold, 0.015)
	}
	if cfg.Risk.Seed == nil || *cfg.Risk.Seed != 42 {
		t.Errorf("Risk.Seed = %v, want 42", cfg.Risk.Seed)
	}
	if cfg.Risk.MaxLossPct != 0.05 {
		t.Errorf("Risk.MaxLossPct = %v, want %v", cfg.Risk.MaxLossPct, 0.05)
	}
	if cfg.Risk.MaxPaths != 5000 || cfg.Risk.MaxPathHorizon != 60 {
		t.Errorf("Risk max paths/days = %d/%d, want 5000/60", cfg.Risk.MaxPaths, cfg.Risk.MaxPathHorizon)
	}
	if cfg.Risk.MaxSimulations != 1_000_000 || cfg.Risk.MaxHorizon != 252 {
		t.Errorf("Risk max sims/horizon = %d/%d, want defaults 1000000/252", cfg.Risk.MaxSimulations, cfg.Risk.MaxHorizon)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  data_dir: "/from/file"
alpaca:
  api_key: "file-key"
`)
	t.Setenv("DATA_DIR", "/from/env")
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("YAHOO_BASE_URL", "http://127.0.0.1:9999")
	t.Setenv("VARENGINE_SEED", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/from/env" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/from/env")
	}
	if cfg.Alpaca.APIKey != "env-key" || cfg.Alpaca.APISecret != "env-secret" {
		t.Errorf("Alpaca credentials = %q/%q, want env values", cfg.Alpaca.APIKey, cfg.Alpaca.APISecret)
	}
	if cfg.Yahoo.BaseURL != "http://127.0.0.1:9999" {
		t.Errorf("Yahoo.BaseURL = %q, want override", cfg.Yahoo.BaseURL)
	}
	if cfg.Risk.Seed == nil || *cfg.Risk.Seed != 7 {
		t.Errorf("Risk.Seed = %v, want 7", cfg.Risk.Seed)
	}

	t.Setenv("VARENGINE_SEED", "not-a-number")
	if _, err := Load(path); err == nil {
		t.Error("Load() with bad VARENGINE_SEED returned nil error")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() returned error: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server = %+v, want ports 8080/9090", cfg.Server)
	}
	if cfg.Loader.Source != "auto" {
		t.Errorf("Loader.Source = %q, want %q", cfg.Loader.Source, "auto")
	}
	if cfg.Risk.MinObservations != 30 {
		t.Errorf("Risk.MinObservations = %d, want 30", cfg.Risk.MinObservations)
	}
	if len(cfg.Risk.Confidences) != 2 {
		t.Errorf("Risk.Confidences = %v, want two defaults", cfg.Risk.Confidences)
	}
	if cfg.Risk.Seed != nil {
		t.Errorf("Risk.Seed = %v, want nil", *cfg.Risk.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"confidence of one", func(c *Config) { c.Risk.Confidences = []float64{0.95, 1} }},
		{"negative threshold", func(c *Config) { c.Risk.DivergenceThreshold = -0.1 }},
		{"tiny minimum", func(c *Config) { c.Risk.MinObservations = 1 }},
		{"loss limit above one", func(c *Config) { c.Risk.MaxLossPct = 1.5 }},
		{"unknown source", func(c *Config) { c.Loader.Source = "bloomberg" }},
		{"alpaca without keys", func(c *Config) { c.Loader.Source = "alpaca" }},
		{"paths above max", func(c *Config) { c.Risk.MaxPaths = c.Risk.Paths - 1 }},
		{"negative max simulations", func(c *Config) { c.Risk.MaxSimulations = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			if err != nil {
				t.Fatalf("Default() returned error: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault(missing) returned error: %v", err)
	}
	if cfg.Loader.Source != "auto" {
		t.Errorf("Loader.Source = %q, want %q", cfg.Loader.Source, "auto")
	}

	bad := writeConfig(t, "risk:\n  divergence_threshold: -1\n")
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("LoadOrDefault(invalid) returned nil error")
	}

	t.Setenv("VARENGINE_CONFIG", "/etc/varengine.yaml")
	if got := ResolvePath(); got != "/etc/varengine.yaml" {
		t.Errorf("ResolvePath() = %q, want %q", got, "/etc/varengine.yaml")
	}
}

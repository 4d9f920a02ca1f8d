// Package app wires the configured stores, data sources, loader and engine
// together for the command-line tool and the server.
package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"varengine/internal/config"
	"varengine/internal/engine"
	"varengine/internal/gather"
	"varengine/internal/metrics"
	"varengine/internal/store"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config   *config.Config
	Bars     *store.ParquetStore
	FetchLog *store.SQLiteStore
	Loader   *gather.Loader
	Engine   *engine.Engine
	Metrics  *metrics.Registry
	Log      *slog.Logger
}

// New builds an App. m may be nil when metrics are not exported. The caller
// must Close the App.
func New(cfg *config.Config, m *metrics.Registry, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	fetchLog, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening fetch log %s: %w", cfg.Storage.SQLitePath, err)
	}
	bars := store.NewParquetStore(cfg.Storage.DataDir)

	sources, err := gather.BuildSources(cfg, &http.Client{Timeout: cfg.Loader.Timeout})
	if err != nil {
		fetchLog.Close()
		return nil, err
	}
	loader := gather.NewLoader(sources, bars, fetchLog, gather.OptionsFromConfig(cfg), m, log)
	eng := engine.NewEngine(loader, cfg.Risk.Params(), cfg.Risk.Seed,
		engine.NewRiskManager(cfg.Risk.MaxLossPct), m, log)

	log.Debug("app ready",
		"sources", loader.Sources(),
		"data_dir", cfg.Storage.DataDir,
		"sqlite", cfg.Storage.SQLitePath,
		"seeded", cfg.Risk.Seed != nil,
	)

	return &App{
		Config:   cfg,
		Bars:     bars,
		FetchLog: fetchLog,
		Loader:   loader,
		Engine:   eng,
		Metrics:  m,
		Log:      log,
	}, nil
}

// Close releases the fetch log.
func (a *App) Close() error {
	if a == nil || a.FetchLog == nil {
		return nil
	}
	return a.FetchLog.Close()
}

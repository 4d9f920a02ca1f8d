package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"varengine/internal/api"
	"varengine/internal/app"
	"varengine/internal/config"
	"varengine/internal/engine"
	"varengine/internal/httpapi"
	"varengine/internal/metrics"
	"varengine/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.ResolvePath(), "path to the config file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	a, err := app.New(cfg, m, logger)
	if err != nil {
		log.Fatalf("failed to build app: %v", err)
	}
	defer a.Close()

	policy := engine.PolicyFromConfig(cfg)
	rs := httpapi.NewRiskServer(a.Engine, policy, m, logger)
	go rs.Run(ctx)
	svc := api.NewRiskService(a.Engine, policy)
	srv := api.NewServer(cfg, rs.Handler(), svc, logger)

	logger.Info("varengine-server starting",
		"host", cfg.Server.Host,
		"http_port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"source", cfg.Loader.Source,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		a.Close()
		log.Fatal(err)
	}
	logger.Info("varengine-server stopped")
}

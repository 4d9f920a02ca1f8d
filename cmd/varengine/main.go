package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"varengine/internal/app"
	"varengine/internal/config"
	"varengine/internal/engine"
	"varengine/internal/util"
	"varengine/pkg/varengine"
)

const version = "0.3.0"

var (
	cfgPath   string
	logLevel  string
	serverURL string
)

// rootCmd is the base command for the varengine CLI.
var rootCmd = &cobra.Command{
	Use:   "varengine",
	Short: "Value-at-Risk comparison and GBM simulation",
	Long: `varengine estimates one-day Value-at-Risk for a ticker with historical,
parametric and Monte Carlo methods, simulates geometric Brownian motion
price paths, and writes risk briefs with charts.

Daily bars come from Alpaca when credentials are configured and from
Yahoo Finance otherwise; they are cached locally as Parquet.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "varengine %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $VARENGINE_CONFIG or config/varengine.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", os.Getenv("VARENGINE_SERVER"), "run against a varengine server instead of locally")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves and validates the configuration and installs the
// default logger. CLI logs go to stderr as text unless configured otherwise.
func loadConfig() (*config.Config, *slog.Logger, error) {
	path := cfgPath
	if path == "" {
		path = config.ResolvePath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)
	return cfg, log, nil
}

// openApp loads the configuration and builds the local engine.
func openApp() (*app.App, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, nil, log)
}

// ---------------------------------------------------------------------------
// Shared run flags
// ---------------------------------------------------------------------------

// runFlags are the request overrides shared by compare, simulate and brief.
type runFlags struct {
	start       string
	end         string
	confidences []float64
	sims        int
	horizon     int
	paths       int
	days        int
	threshold   float64
	seed        uint64
	json        bool
	chart       string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.start, "start", "", "first date, YYYY-MM-DD or a lookback such as 2y (default loader.lookback)")
	fl.StringVar(&f.end, "end", "", "last date, YYYY-MM-DD (default today)")
	fl.Float64SliceVar(&f.confidences, "confidence", nil, "confidence levels, e.g. 0.95,0.99")
	fl.Uint64Var(&f.seed, "seed", 0, "random seed for a reproducible run")
	fl.BoolVar(&f.json, "json", false, "print the JSON response instead of a table")
	fl.StringVar(&f.chart, "chart", "", "also write the chart PNG to this path")
}

func (f *runFlags) registerCompare(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.sims, "sims", 0, "Monte Carlo samples (default risk.simulations)")
	cmd.Flags().IntVar(&f.horizon, "horizon", 0, "Monte Carlo horizon in days (default risk.horizon)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "divergence threshold (default risk.divergence_threshold)")
}

func (f *runFlags) registerSimulate(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.paths, "paths", 0, "GBM paths (default risk.paths)")
	cmd.Flags().IntVar(&f.days, "days", 0, "GBM horizon in days (default risk.path_horizon)")
}

// params converts the flags that were set into request parameters.
func (f *runFlags) params(cmd *cobra.Command, symbol string) map[string][]string {
	p := map[string][]string{engine.ParamSymbol: {symbol}}
	changed := cmd.Flags().Changed
	set := func(k, v string) { p[k] = []string{v} }

	if f.start != "" {
		set(engine.ParamStart, f.start)
	}
	if f.end != "" {
		set(engine.ParamEnd, f.end)
	}
	for _, c := range f.confidences {
		p[engine.ParamConfidence] = append(p[engine.ParamConfidence], strconv.FormatFloat(c, 'f', -1, 64))
	}
	ints := map[string]int{
		engine.ParamSims:    f.sims,
		engine.ParamHorizon: f.horizon,
		engine.ParamPaths:   f.paths,
		engine.ParamDays:    f.days,
	}
	for k, n := range ints {
		if changed(k) {
			set(k, strconv.Itoa(n))
		}
	}
	if changed(engine.ParamThreshold) {
		set(engine.ParamThreshold, strconv.FormatFloat(f.threshold, 'f', -1, 64))
	}
	if changed(engine.ParamSeed) {
		set(engine.ParamSeed, strconv.FormatUint(f.seed, 10))
	}
	return p
}

// request parses the flags against the local configuration.
func (f *runFlags) request(cmd *cobra.Command, symbol string, cfg *config.Config) (engine.Request, error) {
	return engine.ParseRequest(f.params(cmd, symbol), engine.PolicyFromConfig(cfg), time.Now())
}

// query converts the flags for the remote client.
func (f *runFlags) query(cmd *cobra.Command, symbol string) varengine.Query {
	q := varengine.Query{
		Symbol:      symbol,
		Start:       f.start,
		End:         f.end,
		Confidences: f.confidences,
		Simulations: f.sims,
		Horizon:     f.horizon,
		Paths:       f.paths,
		Days:        f.days,
		Threshold:   f.threshold,
	}
	if cmd.Flags().Changed(engine.ParamSeed) {
		seed := f.seed
		q.Seed = &seed
	}
	return q
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeChart(cmd *cobra.Command, path string, img []byte) error {
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "chart written to %s\n", path)
	return nil
}

package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"varengine/internal/domain"
	"varengine/internal/gather"
	"varengine/internal/report"
)

var (
	fetchStart   string
	fetchEnd     string
	fetchWorkers int
	fetchesLimit int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch SYMBOL...",
	Short: "Download and cache daily bars for one or more symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "List symbols with cached bars, per source",
	Args:  cobra.NoArgs,
	RunE:  runCached,
}

var fetchesCmd = &cobra.Command{
	Use:   "fetches",
	Short: "List recent upstream downloads from the fetch log",
	Args:  cobra.NoArgs,
	RunE:  runFetches,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchStart, "start", "", "first date, YYYY-MM-DD or a lookback such as 5y (default loader.lookback)")
	fetchCmd.Flags().StringVar(&fetchEnd, "end", "", "last date, YYYY-MM-DD (default today)")
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", 4, "concurrent downloads")
	fetchesCmd.Flags().IntVar(&fetchesLimit, "limit", 20, "rows to show")
	rootCmd.AddCommand(fetchCmd, fetchesCmd, cachedCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	startArg := fetchStart
	if startArg == "" {
		startArg = a.Config.Loader.Lookback
	}
	start, err := gather.ParseDate(startArg, now)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end := now
	if fetchEnd != "" {
		if end, err = gather.ParseDate(fetchEnd, now); err != nil {
			return fmt.Errorf("--end: %w", err)
		}
	}

	results, runErr := gather.NewWarmGatherer(a.Loader, args, start, end, fetchWorkers).RunWithResults(cmd.Context())

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		rows = append(rows, []string{r.Symbol, r.Source, strconv.Itoa(r.Bars), status})
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Symbol", "Source", "Bars", "Status"}, rows))
	return runErr
}

func runFetches(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	fetches, err := a.FetchLog.Recent(cmd.Context(), fetchesLimit)
	if err != nil {
		return err
	}
	if len(fetches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No fetches recorded.")
		return nil
	}
	rows := make([][]string, 0, len(fetches))
	for _, f := range fetches {
		rows = append(rows, []string{
			f.Symbol,
			string(f.Source),
			f.Start.Format(time.DateOnly),
			f.End.Format(time.DateOnly),
			strconv.Itoa(f.Bars),
			f.FetchedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Symbol", "Source", "Start", "End", "Bars", "Fetched"}, rows))
	return nil
}

func runCached(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var rows [][]string
	for _, src := range []domain.Source{domain.SourceAlpaca, domain.SourceYahoo} {
		symbols, err := a.Bars.ListSymbols(cmd.Context(), src)
		if err != nil {
			return err
		}
		if len(symbols) == 0 {
			continue
		}
		rows = append(rows, []string{string(src), strconv.Itoa(len(symbols)), strings.Join(symbols, " ")})
	}
	if len(rows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.Table([]string{"Source", "Count", "Symbols"}, rows))
	return nil
}

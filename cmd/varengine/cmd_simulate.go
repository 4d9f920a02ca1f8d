package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"varengine/internal/httpapi"
	"varengine/internal/report"
	"varengine/pkg/varengine"
)

var (
	simulateFlags runFlags
	samplePaths   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate SYMBOL",
	Short: "Simulate GBM price paths and report terminal VaR",
	Example: `  varengine simulate SPY --paths 5000 --days 10
  varengine simulate AAPL --seed 7 --chart aapl-distribution.png`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateFlags.register(simulateCmd)
	simulateFlags.registerSimulate(simulateCmd)
	simulateCmd.Flags().IntVar(&samplePaths, "sample-paths", 0, "include this many sample paths in --json output")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	symbol := strings.ToUpper(args[0])

	if serverURL != "" {
		client := varengine.NewClient(serverURL)
		q := simulateFlags.query(cmd, symbol)
		q.SamplePaths = samplePaths
		resp, err := client.Simulate(ctx, q)
		if err != nil {
			return err
		}
		if simulateFlags.chart != "" {
			img, err := client.DistributionChart(ctx, q)
			if err != nil {
				return err
			}
			if err := writeChart(cmd, simulateFlags.chart, img); err != nil {
				return err
			}
		}
		return printJSON(cmd, resp)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := simulateFlags.request(cmd, symbol, a.Config)
	if err != nil {
		return err
	}
	rep, err := a.Engine.Simulate(ctx, req)
	if err != nil {
		return err
	}

	if simulateFlags.chart != "" {
		img, err := report.DistributionChart(rep, report.DefaultBins)
		if err != nil {
			return err
		}
		if err := writeChart(cmd, simulateFlags.chart, img); err != nil {
			return err
		}
	}
	if simulateFlags.json {
		return printJSON(cmd, httpapi.SimulateResponse(rep, samplePaths))
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.RenderSimulation(rep))
	return nil
}

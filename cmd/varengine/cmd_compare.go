package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"varengine/internal/httpapi"
	"varengine/internal/report"
	"varengine/pkg/varengine"
)

var compareFlags runFlags

var compareCmd = &cobra.Command{
	Use:   "compare SYMBOL",
	Short: "Compare historical, parametric and Monte Carlo VaR",
	Example: `  varengine compare SPY
  varengine compare ^GSPC --start 2020-01-01 --confidence 0.95,0.99 --seed 42
  varengine compare MAD=X --json --chart mad.png`,
	Args: cobra.ExactArgs(1),
	RunE: runCompare,
}

func init() {
	compareFlags.register(compareCmd)
	compareFlags.registerCompare(compareCmd)
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	symbol := strings.ToUpper(args[0])

	if serverURL != "" {
		client := varengine.NewClient(serverURL)
		q := compareFlags.query(cmd, symbol)
		resp, err := client.Compare(ctx, q)
		if err != nil {
			return err
		}
		if compareFlags.chart != "" {
			img, err := client.CompareChart(ctx, q)
			if err != nil {
				return err
			}
			if err := writeChart(cmd, compareFlags.chart, img); err != nil {
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

	req, err := compareFlags.request(cmd, symbol, a.Config)
	if err != nil {
		return err
	}
	rep, err := a.Engine.Compare(ctx, req)
	if err != nil {
		return err
	}

	if compareFlags.chart != "" {
		img, err := report.ComparisonChart(rep.Symbol, rep.Comparison)
		if err != nil {
			return err
		}
		if err := writeChart(cmd, compareFlags.chart, img); err != nil {
			return err
		}
	}
	if compareFlags.json {
		return printJSON(cmd, httpapi.CompareResponse(rep))
	}
	fmt.Fprintln(cmd.OutOrStdout(), report.RenderCompare(rep))
	return nil
}

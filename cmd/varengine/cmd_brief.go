package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"varengine/internal/report"
)

var (
	briefFlags runFlags
	briefOut   string
)

var briefCmd = &cobra.Command{
	Use:   "brief SYMBOL",
	Short: "Write a markdown risk brief with distribution, path and comparison charts",
	Example: `  varengine brief SPY --out briefs
  varengine brief ^GSPC --days 5 --paths 2000 --seed 42`,
	Args: cobra.ExactArgs(1),
	RunE: runBrief,
}

func init() {
	briefFlags.register(briefCmd)
	briefFlags.registerCompare(briefCmd)
	briefFlags.registerSimulate(briefCmd)
	briefCmd.Flags().StringVar(&briefOut, "out", "briefs", "output directory")
	rootCmd.AddCommand(briefCmd)
}

func runBrief(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return errors.New("brief runs locally only; unset --server")
	}
	ctx := cmd.Context()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := briefFlags.request(cmd, strings.ToUpper(args[0]), a.Config)
	if err != nil {
		return err
	}
	sim, err := a.Engine.Simulate(ctx, req)
	if err != nil {
		return err
	}
	// Share the seed so the brief can be reproduced from its footer.
	if req.Seed == nil {
		seed := sim.Seed
		req.Seed = &seed
	}
	cmp, err := a.Engine.Compare(ctx, req)
	if err != nil {
		return err
	}

	brief, err := report.WriteBrief(briefOut, sim, cmp)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, report.RenderSimulation(sim))
	fmt.Fprintf(out, "Brief: %s\n", brief.Markdown)
	for _, img := range brief.Images {
		fmt.Fprintf(out, "Chart: %s\n", img)
	}
	return nil
}

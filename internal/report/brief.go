package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"varengine/internal/engine"
)

// Brief lists the files written by WriteBrief.
type Brief struct {
	Markdown string
	Images   []string
}

// BriefMarkdown renders the one-page risk brief for a simulation and, when
// cmp is non-nil, appends the method comparison. images maps the chart
// names used in the text ("distribution", "paths", "comparison") to
// relative file names; missing entries are left out.
func BriefMarkdown(sim *engine.SimulationReport, cmp *engine.CompareReport, images map[string]string) string {
	var b strings.Builder
	ps := sim.PathSet

	b.WriteString("# DEAL RISK BRIEF\n\n")
	fmt.Fprintf(&b, "*%s | Monte Carlo VaR Analysis*\n\n", sim.Symbol)
	fmt.Fprintf(&b, "Generated: %s\n\n", sim.GeneratedAt.Format(time.DateOnly))

	fmt.Fprintf(&b, "## KEY METRICS (%d-Day Horizon)\n\n", ps.Horizon())
	b.WriteString("```\n")
	metrics := slices.Clone(sim.Metrics)
	slices.SortFunc(metrics, func(a, b engine.SimulationMetric) int {
		switch {
		case a.Confidence < b.Confidence:
			return -1
		case a.Confidence > b.Confidence:
			return 1
		}
		return 0
	})
	for _, m := range metrics {
		fmt.Fprintf(&b, "%-13s %.2f  →  %.2f%% potential loss\n",
			FormatLevel(m.Confidence)+" VaR:", m.TerminalVaR, m.LossPercent)
	}
	fmt.Fprintf(&b, "%-13s %.2f\n", "Mean Outcome:", sim.MeanOutcome)
	fmt.Fprintf(&b, "%-13s %s\n", "Simulations:", FormatInt(ps.Paths()))
	fmt.Fprintf(&b, "%-13s %s\n", "Method:", "Geometric Brownian Motion")
	b.WriteString("```\n\n")

	if img, ok := images["distribution"]; ok {
		fmt.Fprintf(&b, "![Risk Distribution: %s](%s)\n\n", sim.Symbol, img)
	}

	primary := sim.Primary()
	b.WriteString("## INTERPRETATION\n\n")
	fmt.Fprintf(&b, "- There is a %s probability that %s could decline by more than %.2f%% over a %d-day period under current market conditions.\n",
		FormatTail(primary.Confidence), sim.Symbol, primary.LossPercent, ps.Horizon())
	fmt.Fprintf(&b, "- Methodology: Geometric Brownian Motion with %s Monte Carlo simulations. Volatility and drift estimated from %s daily returns between %s and %s.\n",
		FormatInt(ps.Paths()), FormatInt(sim.Observations),
		sim.Start.Format(time.DateOnly), sim.End.Format(time.DateOnly))
	if msg := LimitMessage(sim.Limit); msg != "" {
		fmt.Fprintf(&b, "- %s.\n", msg)
	}
	b.WriteString("\n")

	if img, ok := images["paths"]; ok {
		fmt.Fprintf(&b, "![Simulated Paths: %s](%s)\n\n", sim.Symbol, img)
	}

	if cmp != nil {
		b.WriteString(CompareMarkdown(cmp))
		b.WriteString("\n")
		if img, ok := images["comparison"]; ok {
			fmt.Fprintf(&b, "![VaR Comparison: %s](%s)\n\n", cmp.Symbol, img)
		}
	}

	fmt.Fprintf(&b, "---\nRun %s · seed %d · source %s\n", sim.RunID, sim.Seed, sim.Source)
	return b.String()
}

// WriteBrief renders the charts and the markdown brief into dir. File names
// are prefixed with the lower-cased symbol so several briefs can share a
// directory.
func WriteBrief(dir string, sim *engine.SimulationReport, cmp *engine.CompareReport) (*Brief, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating brief dir: %w", err)
	}
	prefix := fileSafe(sim.Symbol)

	type chart struct {
		name   string
		render func() ([]byte, error)
	}
	charts := []chart{
		{"distribution", func() ([]byte, error) { return DistributionChart(sim, DefaultBins) }},
		{"paths", func() ([]byte, error) { return PathsChart(sim) }},
	}
	if cmp != nil {
		charts = append(charts, chart{"comparison", func() ([]byte, error) {
			return ComparisonChart(cmp.Symbol, cmp.Comparison)
		}})
	}

	out := &Brief{}
	images := make(map[string]string, len(charts))
	for _, c := range charts {
		img, err := c.render()
		if err != nil {
			return nil, fmt.Errorf("rendering %s chart: %w", c.name, err)
		}
		name := prefix + "-" + c.name + ".png"
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, img, 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
		images[c.name] = name
		out.Images = append(out.Images, path)
	}

	out.Markdown = filepath.Join(dir, prefix+"-brief.md")
	if err := os.WriteFile(out.Markdown, []byte(BriefMarkdown(sim, cmp, images)), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", out.Markdown, err)
	}
	return out, nil
}

// fileSafe lower-cases a symbol and replaces characters that are awkward in
// file names, so "^GSPC" becomes "gspc" and "MAD=X" becomes "mad-x".
func fileSafe(symbol string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(symbol) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == '^':
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "brief"
	}
	return b.String()
}

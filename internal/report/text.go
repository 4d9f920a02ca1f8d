// Package report turns engine reports into text, markdown and PNG charts.
// Nothing here computes risk; every number comes from the engine.
package report

import (
	"fmt"
	"slices"
	"strings"

	"varengine/internal/engine"
	"varengine/internal/risk"
)

// RecommendationMessage is the one-line verdict shown under a comparison. It
// names the level the spread was measured at, which is the first requested
// level when the primary level was not requested.
func RecommendationMessage(rec risk.Recommendation) string {
	if rec.Diverged {
		return fmt.Sprintf("Methods diverge at %s (spread: %.4f) → Prefer Historical VaR (no distribution assumptions)",
			FormatLevel(rec.Confidence), rec.Spread)
	}
	return fmt.Sprintf("Methods agree at %s (spread: %.4f) → Parametric VaR is efficient for quick estimates",
		FormatLevel(rec.Confidence), rec.Spread)
}

// horizonPhrase renders a horizon in periods as "in one day" or "over 30
// days".
func horizonPhrase(days int) string {
	if days <= 1 {
		return "in one day"
	}
	return fmt.Sprintf("over %d days", days)
}

// CompareInterpretation explains the most conservative estimate at the
// recommendation level in plain words.
func CompareInterpretation(rep *engine.CompareReport) string {
	rec := rep.Comparison.Recommendation()
	row := rep.Comparison.At(rec.Confidence)
	if len(row) == 0 {
		return ""
	}
	worst := 0.0
	first := true
	for _, est := range row {
		if first || est.Value < worst {
			worst = est.Value
			first = false
		}
	}
	return fmt.Sprintf("There's a %s chance that %s could lose more than %s%% %s.",
		FormatTail(rec.Confidence), rep.Symbol, FormatLossPct(worst), horizonPhrase(rep.Params.Horizon))
}

// SimulationInterpretation explains the primary terminal VaR of a GBM run.
func SimulationInterpretation(rep *engine.SimulationReport) string {
	m := rep.Primary()
	return fmt.Sprintf("There's a %s chance that %s could lose more than %.2f%% %s.",
		FormatTail(m.Confidence), rep.Symbol, m.LossPercent, horizonPhrase(rep.PathSet.Horizon()))
}

// LimitMessage describes a loss limit check, or returns "" when the check
// is disabled.
func LimitMessage(l engine.LimitCheck) string {
	if !l.Enabled {
		return ""
	}
	if l.Breached {
		return fmt.Sprintf("Loss limit breached: %s exceeds the %s limit", FormatPct(l.Observed), FormatPct(l.Limit))
	}
	return fmt.Sprintf("Within loss limit: %s of %s", FormatPct(l.Observed), FormatPct(l.Limit))
}

// CompareRows returns the comparison as a header plus one row per
// confidence level, with the methods as columns.
func CompareRows(cmp *risk.Comparison) (header []string, rows [][]string) {
	header = []string{"Confidence"}
	for _, m := range risk.Methods() {
		header = append(header, m.Label())
	}
	for _, lvl := range cmp.Levels() {
		row := []string{FormatLevel(lvl)}
		for _, m := range risk.Methods() {
			est, ok := cmp.Estimate(lvl, m)
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, FormatVaR(est.Value))
		}
		rows = append(rows, row)
	}
	return header, rows
}

// MarkdownTable renders a header and rows as a GitHub-flavoured table.
func MarkdownTable(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(header)) + "\n")
	for _, r := range rows {
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
	}
	return b.String()
}

// CompareMarkdown renders a comparison report as a markdown section.
func CompareMarkdown(rep *engine.CompareReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## VaR Comparison: %s\n\n", rep.Symbol)
	fmt.Fprintf(&b, "%s observations from %s to %s (%s), seed %d\n\n",
		FormatInt(rep.Observations), rep.Start.Format("2006-01-02"), rep.End.Format("2006-01-02"), rep.Source, rep.Seed)

	header, rows := CompareRows(rep.Comparison)
	b.WriteString(MarkdownTable(header, rows))
	b.WriteString("\n")

	b.WriteString("**" + RecommendationMessage(rep.Comparison.Recommendation()) + "**\n\n")
	b.WriteString(CompareInterpretation(rep) + "\n")
	if msg := LimitMessage(rep.Limit); msg != "" {
		b.WriteString("\n" + msg + "\n")
	}
	return b.String()
}

// SimulationRows returns one row per simulated confidence level.
func SimulationRows(rep *engine.SimulationReport) (header []string, rows [][]string) {
	header = []string{"Confidence", "Terminal VaR", "Potential loss"}
	metrics := slices.Clone(rep.Metrics)
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
		rows = append(rows, []string{
			FormatLevel(m.Confidence),
			FormatPrice(m.TerminalVaR),
			fmt.Sprintf("%.2f%%", m.LossPercent),
		})
	}
	return header, rows
}

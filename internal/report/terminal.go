package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"varengine/internal/engine"
)

// Styles.
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	agreeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	divergeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	breachStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Table renders a header and rows as a bordered terminal table.
func Table(header []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(header...).
		Rows(rows...)
	return t.String()
}

// RenderCompare formats a comparison report for a terminal.
func RenderCompare(rep *engine.CompareReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("VaR Comparison: %s", rep.Symbol)) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s returns · %s → %s · %s · seed %d · run %s",
		FormatInt(rep.Observations),
		rep.Start.Format("2006-01-02"), rep.End.Format("2006-01-02"),
		rep.Source, rep.Seed, rep.RunID)) + "\n")

	header, rows := CompareRows(rep.Comparison)
	b.WriteString(Table(header, rows) + "\n")

	rec := rep.Comparison.Recommendation()
	style := agreeStyle
	if rec.Diverged {
		style = divergeStyle
	}
	b.WriteString(style.Render(RecommendationMessage(rec)) + "\n")
	b.WriteString(CompareInterpretation(rep) + "\n")
	b.WriteString(renderLimit(rep.Limit))
	return b.String()
}

// RenderSimulation formats a simulation report for a terminal.
func RenderSimulation(rep *engine.SimulationReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("GBM Simulation: %s", rep.Symbol)) + "\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%s paths · %d days · drift %.6f · vol %.6f · seed %d · run %s",
		FormatInt(rep.PathSet.Paths()), rep.PathSet.Horizon(),
		rep.PathSet.Drift(), rep.PathSet.Volatility(), rep.Seed, rep.RunID)) + "\n")

	header, rows := SimulationRows(rep)
	b.WriteString(Table(header, rows) + "\n")
	fmt.Fprintf(&b, "Mean outcome %s · median %s · base %s\n",
		FormatPrice(rep.MeanOutcome), FormatPrice(rep.MedianOutcome), FormatPrice(rep.PathSet.BasePrice()))
	b.WriteString(SimulationInterpretation(rep) + "\n")
	b.WriteString(renderLimit(rep.Limit))
	return b.String()
}

func renderLimit(l engine.LimitCheck) string {
	msg := LimitMessage(l)
	switch {
	case msg == "":
		return ""
	case l.Breached:
		return breachStyle.Render(msg) + "\n"
	default:
		return dimStyle.Render(msg) + "\n"
	}
}

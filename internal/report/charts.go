package report

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/vicanso/go-charts/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"varengine/internal/engine"
	"varengine/internal/risk"
)

// DefaultBins is the histogram resolution of the distribution chart.
const DefaultBins = 40

// maxChartPaths caps the number of paths drawn on the path fan chart.
const maxChartPaths = 20

// Histogram counts values into bins of equal width spanning their range.
// edges has len(counts)+1 entries; the last edge sits just above the
// maximum so that it is counted.
func Histogram(values []float64, bins int) (counts, edges []float64) {
	if len(values) == 0 || bins < 1 {
		return nil, nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi-lo < 1e-12 {
		lo, hi = lo-0.5, hi+0.5
	}
	edges = floats.Span(make([]float64, bins+1), lo, hi)
	edges[bins] = math.Nextafter(hi, math.Inf(1))
	counts = stat.Histogram(nil, edges, sorted, nil)
	return counts, edges
}

// ComparisonChart draws the loss implied by each method at each confidence
// level as grouped bars.
func ComparisonChart(symbol string, cmp *risk.Comparison) ([]byte, error) {
	levels := cmp.Levels()
	if len(levels) == 0 {
		return nil, errors.New("empty comparison")
	}

	var (
		values [][]float64
		names  []string
	)
	for _, m := range risk.Methods() {
		row := make([]float64, len(levels))
		for i, lvl := range levels {
			if est, ok := cmp.Estimate(lvl, m); ok {
				row[i] = math.Abs(est.Value) * 100
			}
		}
		values = append(values, row)
		names = append(names, m.Label())
	}
	labels := make([]string, len(levels))
	for i, lvl := range levels {
		labels[i] = FormatLevel(lvl)
	}

	rec := cmp.Recommendation()
	painter, err := charts.BarRender(values,
		charts.TitleTextOptionFunc("VaR Comparison: "+strings.ToUpper(symbol),
			fmt.Sprintf("potential loss %% · spread %.4f · prefer %s", rec.Spread, rec.Method.Label())),
		charts.XAxisDataOptionFunc(labels),
		charts.LegendOptionFunc(charts.LegendOption{Data: names, Top: "30"}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(800),
		charts.HeightOptionFunc(480),
	)
	if err != nil {
		return nil, err
	}
	return painter.Bytes()
}

// DistributionChart draws the histogram of terminal values with the bins
// beyond the primary terminal VaR split into their own series.
func DistributionChart(rep *engine.SimulationReport, bins int) ([]byte, error) {
	if bins < 1 {
		bins = DefaultBins
	}
	counts, edges := Histogram(rep.PathSet.Terminal(), bins)
	if len(counts) == 0 {
		return nil, errors.New("no simulated outcomes")
	}

	cutoff := rep.Primary().TerminalVaR
	body := make([]float64, len(counts))
	tail := make([]float64, len(counts))
	labels := make([]string, len(counts))
	for i, c := range counts {
		mid := (edges[i] + edges[i+1]) / 2
		labels[i] = fmt.Sprintf("%.1f", mid)
		if edges[i+1] <= cutoff {
			tail[i] = c
		} else {
			body[i] = c
		}
	}

	var marks []string
	for _, m := range rep.Metrics {
		marks = append(marks, fmt.Sprintf("%s VaR %s", FormatLevel(m.Confidence), FormatPrice(m.TerminalVaR)))
	}
	slices.Sort(marks)

	primary := FormatLevel(rep.Primary().Confidence)
	seriesList := charts.NewSeriesListDataFromValues([][]float64{body, tail}, charts.ChartTypeBar)
	painter, err := charts.Render(charts.ChartOption{SeriesList: seriesList},
		charts.TitleTextOptionFunc("Risk Distribution: "+rep.Symbol, strings.Join(marks, " · ")),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, SplitNumber: 10}),
		charts.LegendOptionFunc(charts.LegendOption{Data: []string{"Normalized Value", "Beyond " + primary + " VaR"}, Top: "30"}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(500),
	)
	if err != nil {
		return nil, err
	}
	return painter.Bytes()
}

// PathsChart draws the first few simulated paths.
func PathsChart(rep *engine.SimulationReport) ([]byte, error) {
	ps := rep.PathSet
	n := min(ps.Paths(), maxChartPaths)
	if n == 0 {
		return nil, errors.New("no simulated paths")
	}

	values := make([][]float64, n)
	yMin, yMax := math.Inf(1), math.Inf(-1)
	for i := range n {
		values[i] = ps.Path(i)
		yMin = min(yMin, floats.Min(values[i]))
		yMax = max(yMax, floats.Max(values[i]))
	}
	pad := (yMax - yMin) * 0.05
	yMin -= pad
	yMax += pad

	labels := make([]string, ps.Horizon()+1)
	for t := range labels {
		labels[t] = fmt.Sprintf("%d", t)
	}

	painter, err := charts.LineRender(values,
		charts.TitleTextOptionFunc(fmt.Sprintf("Simulated Paths: %s", rep.Symbol),
			fmt.Sprintf("%d of %s paths · %d days", n, FormatInt(ps.Paths()), ps.Horizon())),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: labels, BoundaryGap: charts.FalseFlag(), SplitNumber: 10}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(900),
		charts.HeightOptionFunc(500),
	)
	if err != nil {
		return nil, err
	}
	return painter.Bytes()
}

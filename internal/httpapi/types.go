// Package httpapi provides the HTTP REST API of varengine-server: VaR
// comparisons, GBM simulations and their charts as JSON and PNG.
package httpapi

import (
	"time"

	"varengine/internal/engine"
	"varengine/internal/report"
	"varengine/internal/risk"
	"varengine/pkg/varengine"
)

// RunJSON converts run metadata to its wire form.
func RunJSON(info engine.RunInfo) varengine.Run {
	return varengine.Run{
		RunID:        info.RunID,
		Symbol:       info.Symbol,
		Source:       string(info.Source),
		Start:        formatDate(info.Start),
		End:          formatDate(info.End),
		Observations: info.Observations,
		Seed:         info.Seed,
		GeneratedAt:  info.GeneratedAt,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// LimitJSON converts a loss limit check; it returns nil when the check is
// disabled.
func LimitJSON(l engine.LimitCheck) *varengine.Limit {
	if !l.Enabled {
		return nil
	}
	return &varengine.Limit{Limit: l.Limit, Observed: l.Observed, Breached: l.Breached}
}

// CompareResponse converts a comparison report. Levels are listed in request
// order because JSON objects cannot be keyed by float.
func CompareResponse(rep *engine.CompareReport) varengine.CompareResponse {
	cmp := rep.Comparison
	levels := make([]varengine.Level, 0, len(cmp.Levels()))
	for _, lvl := range cmp.Levels() {
		row := varengine.Level{Confidence: lvl}
		for m, est := range cmp.At(lvl) {
			switch m {
			case risk.Historical:
				row.Historical = est.Value
			case risk.Parametric:
				row.Parametric = est.Value
			case risk.MonteCarlo:
				row.MonteCarlo = est.Value
			}
		}
		levels = append(levels, row)
	}

	rec := cmp.Recommendation()
	return varengine.CompareResponse{
		Run:         RunJSON(rep.RunInfo),
		Simulations: rep.Params.Simulations,
		Horizon:     rep.Params.Horizon,
		Levels:      levels,
		Recommendation: varengine.Recommendation{
			Method:     string(rec.Method),
			Confidence: rec.Confidence,
			Spread:     rec.Spread,
			Threshold:  rec.Threshold,
			Diverged:   rec.Diverged,
			Message:    report.RecommendationMessage(rec),
		},
		Interpretation: report.CompareInterpretation(rep),
		Limit:          LimitJSON(rep.Limit),
	}
}

// SimulateResponse converts a simulation report, including the first sample
// paths when sample is positive.
func SimulateResponse(rep *engine.SimulationReport, sample int) varengine.SimulateResponse {
	ps := rep.PathSet
	metrics := make([]varengine.Metric, len(rep.Metrics))
	for i, m := range rep.Metrics {
		metrics[i] = varengine.Metric{Confidence: m.Confidence, TerminalVaR: m.TerminalVaR, LossPercent: m.LossPercent}
	}
	counts, edges := report.Histogram(ps.Terminal(), report.DefaultBins)

	out := varengine.SimulateResponse{
		Run:            RunJSON(rep.RunInfo),
		Paths:          ps.Paths(),
		Horizon:        ps.Horizon(),
		BasePrice:      ps.BasePrice(),
		Drift:          ps.Drift(),
		Volatility:     ps.Volatility(),
		Metrics:        metrics,
		MeanOutcome:    rep.MeanOutcome,
		MedianOutcome:  rep.MedianOutcome,
		Interpretation: report.SimulationInterpretation(rep),
		Histogram:      varengine.Histogram{Edges: edges, Counts: counts},
		Limit:          LimitJSON(rep.Limit),
	}
	for i := range min(sample, ps.Paths()) {
		out.SamplePaths = append(out.SamplePaths, ps.Path(i))
	}
	return out
}

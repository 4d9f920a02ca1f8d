package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"varengine/internal/domain"
	"varengine/internal/gather"
	"varengine/internal/metrics"
	"varengine/internal/risk"
)

type fakeLoader struct {
	series domain.ReturnSeries
	err    error
	calls  int
}

func (f *fakeLoader) Load(_ context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error) {
	f.calls++
	if f.err != nil {
		return domain.ReturnSeries{}, f.err
	}
	s := f.series
	s.Symbol = symbol
	s.Start, s.End = start, end
	return s, nil
}

func normalSeries(n int, mu, sigma float64, seed uint64) domain.ReturnSeries {
	rng := rand.New(risk.NewSource(seed))
	values := make([]float64, n)
	for i := range values {
		values[i] = mu + sigma*rng.NormFloat64()
	}
	return domain.ReturnSeries{Source: domain.SourceYahoo, Values: values}
}

func seed(v uint64) *uint64 { return &v }

func TestNewEngine(t *testing.T) {
	e := NewEngine(nil, risk.Params{}, nil, nil, nil, nil)
	if e == nil {
		t.Fatal("NewEngine returned nil")
	}
	if got := e.Params().MinObservations; got != risk.DefaultMinObservations {
		t.Errorf("Params().MinObservations = %d, want %d", got, risk.DefaultMinObservations)
	}
	if _, err := e.Compare(context.Background(), Request{Symbol: "SPY"}); err == nil {
		t.Error("Compare without a loader should fail")
	}
}

func TestEngineCompare(t *testing.T) {
	loader := &fakeLoader{series: normalSeries(250, 0.0004, 0.011, 1)}
	m := metrics.New()
	e := NewEngine(loader, risk.Params{Simulations: 5000}, seed(9), NewRiskManager(0.5), m, nil)

	rep, err := e.Compare(context.Background(), Request{Symbol: "SPY", Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}

	if rep.RunID == "" {
		t.Error("RunID is empty")
	}
	if rep.Symbol != "SPY" || rep.Source != domain.SourceYahoo {
		t.Errorf("Symbol/Source = %s/%s, want SPY/yahoo", rep.Symbol, rep.Source)
	}
	if rep.Observations != 250 {
		t.Errorf("Observations = %d, want 250", rep.Observations)
	}
	if rep.Seed != 9 {
		t.Errorf("Seed = %d, want configured 9", rep.Seed)
	}
	if rep.Params.Simulations != 5000 {
		t.Errorf("Params.Simulations = %d, want 5000", rep.Params.Simulations)
	}
	if got := rep.Comparison.Levels(); len(got) != 2 {
		t.Errorf("Levels = %v, want two defaults", got)
	}
	if !rep.Limit.Enabled || rep.Limit.Breached {
		t.Errorf("Limit = %+v, want enabled and not breached", rep.Limit)
	}
	if got := testutil.ToFloat64(m.RunTotal.WithLabelValues("compare", "ok")); got != 1 {
		t.Errorf("runs_total{compare,ok} = %v, want 1", got)
	}

	// Same seed, same numbers.
	again, err := e.Compare(context.Background(), Request{Symbol: "SPY"})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	a, _ := rep.Comparison.Estimate(0.95, risk.MonteCarlo)
	b, _ := again.Comparison.Estimate(0.95, risk.MonteCarlo)
	if a.Value != b.Value {
		t.Errorf("seeded Monte Carlo differs between runs: %v vs %v", a.Value, b.Value)
	}
	if rep.RunID == again.RunID {
		t.Error("run IDs should be unique")
	}
}

func TestEngineRequestOverrides(t *testing.T) {
	loader := &fakeLoader{series: normalSeries(120, 0, 0.01, 2)}
	e := NewEngine(loader, risk.Params{}, nil, nil, nil, nil)

	rep, err := e.Compare(context.Background(), Request{
		Symbol:      "qqq",
		Confidences: []float64{0.9},
		Simulations: 2000,
		Horizon:     5,
		Threshold:   0.5,
		Seed:        seed(77),
	})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	if rep.Seed != 77 {
		t.Errorf("Seed = %d, want 77", rep.Seed)
	}
	if rep.Params.Horizon != 5 || rep.Params.Simulations != 2000 {
		t.Errorf("Params = %+v, want horizon 5 and 2000 simulations", rep.Params)
	}
	rec := rep.Comparison.Recommendation()
	if rec.Confidence != 0.9 {
		t.Errorf("Recommendation.Confidence = %v, want fallback to 0.9", rec.Confidence)
	}
	if rec.Threshold != 0.5 || rec.Method != risk.Parametric {
		t.Errorf("Recommendation = %+v, want parametric at threshold 0.5", rec)
	}
	if rep.Limit.Enabled {
		t.Error("Limit should be disabled without a RiskManager")
	}
	// Without any configured seed a random one is drawn and reported.
	unseeded, err := e.Compare(context.Background(), Request{Symbol: "qqq"})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	replay, err := e.Compare(context.Background(), Request{Symbol: "qqq", Seed: seed(unseeded.Seed)})
	if err != nil {
		t.Fatalf("Compare returned error: %v", err)
	}
	x, _ := unseeded.Comparison.Estimate(0.95, risk.MonteCarlo)
	y, _ := replay.Comparison.Estimate(0.95, risk.MonteCarlo)
	if x.Value != y.Value {
		t.Errorf("replaying reported seed gave %v, want %v", y.Value, x.Value)
	}
}

func TestEngineSimulate(t *testing.T) {
	loader := &fakeLoader{series: normalSeries(250, 0.0003, 0.012, 3)}
	e := NewEngine(loader, risk.Params{Paths: 2000, PathHorizon: 20}, seed(4), NewRiskManager(0.01), nil, nil)

	rep, err := e.Simulate(context.Background(), Request{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	if rep.PathSet.Paths() != 2000 || rep.PathSet.Horizon() != 20 {
		t.Errorf("PathSet dims = %dx%d, want 2000x20", rep.PathSet.Paths(), rep.PathSet.Horizon())
	}
	if len(rep.Metrics) != 2 {
		t.Fatalf("Metrics = %+v, want 95%% and 99%%", rep.Metrics)
	}
	if rep.Metrics[1].TerminalVaR >= rep.Metrics[0].TerminalVaR {
		t.Errorf("99%% terminal VaR %v should be below 95%% %v", rep.Metrics[1].TerminalVaR, rep.Metrics[0].TerminalVaR)
	}
	if p := rep.Primary(); p.Confidence != 0.95 {
		t.Errorf("Primary().Confidence = %v, want 0.95", p.Confidence)
	}
	if rep.MedianOutcome <= 0 || rep.MeanOutcome <= 0 {
		t.Errorf("outcomes = %v/%v, want positive prices", rep.MeanOutcome, rep.MedianOutcome)
	}
	// Twenty days at 1.2% daily volatility loses more than 1% at 95%.
	if !rep.Limit.Breached {
		t.Errorf("Limit = %+v, want breached", rep.Limit)
	}

	rep, err = e.Simulate(context.Background(), Request{Symbol: "AAPL", Confidences: []float64{0.99}})
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	if len(rep.Metrics) != 2 || rep.Metrics[0].Confidence != 0.95 {
		t.Errorf("Metrics = %+v, want primary level prepended", rep.Metrics)
	}
}

func TestEngineErrors(t *testing.T) {
	m := metrics.New()

	tests := []struct {
		name    string
		loadErr error
		series  domain.ReturnSeries
		req     Request
		want    error
		outcome string
	}{
		{"fetch failure", fmt.Errorf("%w: SPY: timeout", gather.ErrFetch), domain.ReturnSeries{}, Request{Symbol: "SPY"}, gather.ErrFetch, "fetch_error"},
		{"short series", nil, normalSeries(10, 0, 0.01, 1), Request{Symbol: "SPY"}, risk.ErrInsufficientData, "insufficient_data"},
		{"bad confidence", nil, normalSeries(60, 0, 0.01, 1), Request{Symbol: "SPY", Confidences: []float64{1.5}}, risk.ErrInvalidParameter, "invalid_parameter"},
		{"flat series", nil, domain.ReturnSeries{Values: make([]float64, 40)}, Request{Symbol: "SPY"}, risk.ErrDegenerateInput, "degenerate_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&fakeLoader{series: tt.series, err: tt.loadErr}, risk.Params{}, seed(1), nil, m, nil)
			_, err := e.Compare(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Compare error = %v, want %v", err, tt.want)
			}
			if got := Outcome(err); got != tt.outcome {
				t.Errorf("Outcome = %q, want %q", got, tt.outcome)
			}
		})
	}
	if got := testutil.ToFloat64(m.RunTotal.WithLabelValues("compare", "fetch_error")); got != 1 {
		t.Errorf("runs_total{compare,fetch_error} = %v, want 1", got)
	}
}

func TestRiskManager(t *testing.T) {
	rm := NewRiskManager(0.03)

	if c := rm.CheckVaR(-0.025); c.Breached || !c.Enabled || c.Observed != 0.025 {
		t.Errorf("CheckVaR(-0.025) = %+v, want enabled, observed 0.025, not breached", c)
	}
	if c := rm.CheckVaR(-0.04); !c.Breached {
		t.Errorf("CheckVaR(-0.04) = %+v, want breached", c)
	}
	if c := rm.CheckVaR(0.01); c.Observed != 0 || c.Breached {
		t.Errorf("CheckVaR(0.01) = %+v, want no loss", c)
	}
	if c := rm.CheckTerminal(95, 100); !c.Breached || c.Observed != 0.05 {
		t.Errorf("CheckTerminal(95, 100) = %+v, want observed 0.05 and breached", c)
	}

	var disabled *RiskManager
	if c := disabled.CheckVaR(-0.5); c.Enabled || c.Breached {
		t.Errorf("nil RiskManager check = %+v, want disabled", c)
	}
	if c := NewRiskManager(0).CheckVaR(-0.5); c.Enabled {
		t.Errorf("zero limit check = %+v, want disabled", c)
	}
}

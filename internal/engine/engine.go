// Package engine runs VaR comparisons and GBM simulations for a symbol: it
// loads the return series, builds a seeded random source per request, calls
// the risk package and annotates the result with run metadata and the loss
// limit check.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"varengine/internal/domain"
	"varengine/internal/gather"
	"varengine/internal/metrics"
	"varengine/internal/risk"
)

// SeriesLoader supplies return series. *gather.Loader implements it.
type SeriesLoader interface {
	Load(ctx context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error)
}

// Compile-time interface check.
var _ SeriesLoader = (*gather.Loader)(nil)

// ---------------------------------------------------------------------------
// Requests and reports
// ---------------------------------------------------------------------------

// Request selects the data and overrides the configured policy for one run.
// Zero fields keep the configured values.
type Request struct {
	Symbol      string
	Start       time.Time
	End         time.Time
	Confidences []float64
	Simulations int
	Horizon     int
	Paths       int
	PathHorizon int
	Threshold   float64
	Seed        *uint64
}

// RunInfo identifies a run and the data it used.
type RunInfo struct {
	RunID        string
	Symbol       string
	Source       domain.Source
	Start        time.Time
	End          time.Time
	Observations int
	// Seed is the seed actually used; replaying it reproduces the run.
	Seed        uint64
	Params      risk.Params
	GeneratedAt time.Time
}

// CompareReport is the result of a three-method comparison.
type CompareReport struct {
	RunInfo
	Returns    []float64
	Comparison *risk.Comparison
	Limit      LimitCheck
}

// SimulationMetric is the terminal VaR at one confidence level.
type SimulationMetric struct {
	Confidence  float64
	TerminalVaR float64
	LossPercent float64
}

// SimulationReport is the result of a GBM path simulation.
type SimulationReport struct {
	RunInfo
	PathSet       *risk.PathSet
	Metrics       []SimulationMetric
	MeanOutcome   float64
	MedianOutcome float64
	Limit         LimitCheck
}

// Primary returns the metric at the primary confidence level.
func (r *SimulationReport) Primary() SimulationMetric {
	for _, m := range r.Metrics {
		if m.Confidence == r.Params.PrimaryConfidence {
			return m
		}
	}
	return r.Metrics[0]
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine is safe for concurrent use; every run owns its random source.
type Engine struct {
	loader  SeriesLoader
	params  risk.Params
	seed    *uint64
	limits  *RiskManager
	metrics *metrics.Registry
	log     *slog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine. seed, when non-nil, is the default seed for
// requests that do not carry one. limits and m may be nil.
func NewEngine(loader SeriesLoader, params risk.Params, seed *uint64, limits *RiskManager, m *metrics.Registry, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		loader:  loader,
		params:  params.WithDefaults(),
		seed:    seed,
		limits:  limits,
		metrics: m,
		log:     log.With("component", "engine"),
		now:     time.Now,
	}
}

// Params returns the configured policy values.
func (e *Engine) Params() risk.Params { return e.params }

// Compare loads the series for req and compares the three methods.
func (e *Engine) Compare(ctx context.Context, req Request) (*CompareReport, error) {
	began := time.Now()
	rep, err := e.compare(ctx, req)
	e.metrics.ObserveRun("compare", Outcome(err), time.Since(began))
	return rep, err
}

// Simulate loads the series for req and simulates GBM paths.
func (e *Engine) Simulate(ctx context.Context, req Request) (*SimulationReport, error) {
	began := time.Now()
	rep, err := e.simulate(ctx, req)
	e.metrics.ObserveRun("simulate", Outcome(err), time.Since(began))
	return rep, err
}

// CompareSeries compares the methods on an already loaded series.
func (e *Engine) CompareSeries(req Request, series domain.ReturnSeries) (*CompareReport, error) {
	info, src := e.runInfo(req, series)

	cmp, err := risk.NewComparator(info.Params, src).Compare(series.Values, info.Params.Confidences)
	if err != nil {
		return nil, err
	}

	rec := cmp.Recommendation()
	if rec.Diverged {
		e.metrics.Diverged()
	}
	primary, _ := cmp.Estimate(rec.Confidence, rec.Method)
	limit := e.limits.CheckVaR(primary.Value)
	if limit.Breached {
		e.metrics.LimitBreached()
	}

	e.log.Info("compare done",
		"run_id", info.RunID,
		"symbol", info.Symbol,
		"observations", info.Observations,
		"recommended", rec.Method,
		"spread", rec.Spread,
		"diverged", rec.Diverged,
		"limit_breached", limit.Breached,
	)

	return &CompareReport{
		RunInfo:    info,
		Returns:    series.Values,
		Comparison: cmp,
		Limit:      limit,
	}, nil
}

// SimulateSeries simulates GBM paths on an already loaded series and reports
// the terminal VaR at every configured confidence level.
func (e *Engine) SimulateSeries(req Request, series domain.ReturnSeries) (*SimulationReport, error) {
	info, src := e.runInfo(req, series)
	p := info.Params

	sim := risk.Simulator{MinObservations: p.MinObservations, BasePrice: p.BasePrice, Source: src}
	ps, err := sim.Simulate(series.Values, p.Paths, p.PathHorizon)
	if err != nil {
		return nil, err
	}

	levels := p.Confidences
	if !containsLevel(levels, p.PrimaryConfidence) {
		levels = append([]float64{p.PrimaryConfidence}, levels...)
	}
	var out []SimulationMetric
	for _, c := range levels {
		v, err := ps.TerminalVaR(c)
		if err != nil {
			return nil, err
		}
		loss, err := ps.LossPercent(c)
		if err != nil {
			return nil, err
		}
		out = append(out, SimulationMetric{Confidence: c, TerminalVaR: v, LossPercent: loss})
	}

	rep := &SimulationReport{
		RunInfo:       info,
		PathSet:       ps,
		Metrics:       out,
		MeanOutcome:   ps.MeanTerminal(),
		MedianOutcome: ps.MedianTerminal(),
	}
	rep.Limit = e.limits.CheckTerminal(rep.Primary().TerminalVaR, ps.BasePrice())
	if rep.Limit.Breached {
		e.metrics.LimitBreached()
	}

	e.log.Info("simulate done",
		"run_id", info.RunID,
		"symbol", info.Symbol,
		"paths", ps.Paths(),
		"horizon", ps.Horizon(),
		"terminal_var", rep.Primary().TerminalVaR,
		"limit_breached", rep.Limit.Breached,
	)
	return rep, nil
}

func (e *Engine) compare(ctx context.Context, req Request) (*CompareReport, error) {
	series, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.CompareSeries(req, series)
}

func (e *Engine) simulate(ctx context.Context, req Request) (*SimulationReport, error) {
	series, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.SimulateSeries(req, series)
}

func (e *Engine) load(ctx context.Context, req Request) (domain.ReturnSeries, error) {
	if e.loader == nil {
		return domain.ReturnSeries{}, errors.New("engine has no data loader")
	}
	return e.loader.Load(ctx, req.Symbol, req.Start, req.End)
}

// runInfo merges request overrides into the configured params and resolves
// the seed.
func (e *Engine) runInfo(req Request, series domain.ReturnSeries) (RunInfo, rand.Source) {
	p := e.params
	if len(req.Confidences) > 0 {
		p.Confidences = req.Confidences
	}
	if req.Simulations != 0 {
		p.Simulations = req.Simulations
	}
	if req.Horizon != 0 {
		p.Horizon = req.Horizon
	}
	if req.Paths != 0 {
		p.Paths = req.Paths
	}
	if req.PathHorizon != 0 {
		p.PathHorizon = req.PathHorizon
	}
	if req.Threshold != 0 {
		p.DivergenceThreshold = req.Threshold
	}
	p = p.WithDefaults()

	var seed uint64
	switch {
	case req.Seed != nil:
		seed = *req.Seed
	case e.seed != nil:
		seed = *e.seed
	default:
		seed = rand.Uint64()
	}

	symbol := series.Symbol
	if symbol == "" {
		symbol = strings.ToUpper(req.Symbol)
	}
	return RunInfo{
		RunID:        uuid.NewString(),
		Symbol:       symbol,
		Source:       series.Source,
		Start:        series.Start,
		End:          series.End,
		Observations: series.Len(),
		Seed:         seed,
		Params:       p,
		GeneratedAt:  e.now().UTC(),
	}, risk.NewSource(seed)
}

func containsLevel(levels []float64, c float64) bool {
	for _, l := range levels {
		if l == c {
			return true
		}
	}
	return false
}

// Outcome classifies a run error for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, risk.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, risk.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, risk.ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, gather.ErrFetch):
		return "fetch_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

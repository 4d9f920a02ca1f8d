// Package risk computes Value-at-Risk for a single return series with three
// estimators (historical, parametric, Monte Carlo), simulates geometric
// Brownian motion price paths, and compares the estimators across confidence
// levels.
//
// Every function here is pure apart from the injected random source: nothing
// formats text, draws charts or performs I/O. VaR values are expressed in
// return space, so a 95% VaR of -0.021 means a 5% chance of losing more than
// 2.1% over the horizon.
package risk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"
)

// ---------------------------------------------------------------------------
// Methods and estimates
// ---------------------------------------------------------------------------

// Method identifies the estimator that produced a VaR value.
type Method string

const (
	Historical Method = "historical"
	Parametric Method = "parametric"
	MonteCarlo Method = "monte_carlo"
)

// Methods lists the estimators in presentation order.
func Methods() []Method {
	return []Method{Historical, Parametric, MonteCarlo}
}

// Label returns the human-readable method name.
func (m Method) Label() string {
	switch m {
	case Historical:
		return "Historical"
	case Parametric:
		return "Parametric"
	case MonteCarlo:
		return "Monte Carlo"
	default:
		return string(m)
	}
}

// ParseMethod accepts the wire names and the labels.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods() {
		if s == string(m) || s == m.Label() {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown method %q", ErrInvalidParameter, s)
}

// Estimate is a single VaR value tagged with the method and confidence level
// that produced it.
type Estimate struct {
	Method     Method
	Confidence float64
	Value      float64
}

// ---------------------------------------------------------------------------
// Policy defaults
// ---------------------------------------------------------------------------

const (
	// DefaultMinObservations is the shortest series any estimator accepts.
	DefaultMinObservations = 30
	// DefaultSimulations is the Monte Carlo sample count.
	DefaultSimulations = 10000
	// DefaultHorizon is the Monte Carlo horizon in periods.
	DefaultHorizon = 1
	// DefaultPaths is the GBM path count.
	DefaultPaths = 10000
	// DefaultPathHorizon is the GBM horizon in periods.
	DefaultPathHorizon = 30
	// DefaultBasePrice is the normalized starting price of every GBM path.
	DefaultBasePrice = 100.0
	// DefaultDivergenceThreshold is the spread, in return units, above which
	// the comparator prefers the historical method.
	DefaultDivergenceThreshold = 0.02
	// DefaultPrimaryConfidence is the level the recommendation is based on.
	DefaultPrimaryConfidence = 0.95

	// DefaultMaxSimulations, DefaultMaxHorizon, DefaultMaxPaths and
	// DefaultMaxPathHorizon cap what a single external request may ask for.
	DefaultMaxSimulations = 1_000_000
	DefaultMaxHorizon     = 252
	DefaultMaxPaths       = 100_000
	DefaultMaxPathHorizon = 252

	// MaxSamples bounds the Monte Carlo draws and the GBM matrix cells of a
	// single call, about 512 MiB of float64s.
	MaxSamples = 1 << 26
)

// DefaultConfidences are the levels compared when none are requested.
func DefaultConfidences() []float64 {
	return []float64{0.95, 0.99}
}

// Params collects the configurable policy values of the engine. Zero fields
// fall back to the package defaults.
type Params struct {
	MinObservations     int
	Simulations         int
	Horizon             int
	Paths               int
	PathHorizon         int
	BasePrice           float64
	DivergenceThreshold float64
	PrimaryConfidence   float64
	Confidences         []float64
}

// DefaultParams returns Params populated with the package defaults.
func DefaultParams() Params {
	return Params{}.WithDefaults()
}

// WithDefaults returns a copy of p with zero fields replaced by defaults.
func (p Params) WithDefaults() Params {
	if p.MinObservations <= 0 {
		p.MinObservations = DefaultMinObservations
	}
	if p.Simulations == 0 {
		p.Simulations = DefaultSimulations
	}
	if p.Horizon == 0 {
		p.Horizon = DefaultHorizon
	}
	if p.Paths == 0 {
		p.Paths = DefaultPaths
	}
	if p.PathHorizon == 0 {
		p.PathHorizon = DefaultPathHorizon
	}
	if p.BasePrice == 0 {
		p.BasePrice = DefaultBasePrice
	}
	if p.DivergenceThreshold == 0 {
		p.DivergenceThreshold = DefaultDivergenceThreshold
	}
	if p.PrimaryConfidence == 0 {
		p.PrimaryConfidence = DefaultPrimaryConfidence
	}
	if len(p.Confidences) == 0 {
		p.Confidences = DefaultConfidences()
	} else {
		p.Confidences = slices.Clone(p.Confidences)
	}
	return p
}

// ---------------------------------------------------------------------------
// Estimator
// ---------------------------------------------------------------------------

// Estimator runs the three VaR methods against a return series. Source
// drives the Monte Carlo draws; a nil Source is replaced by an unseeded one
// on each call. An Estimator with a non-nil Source is not safe for
// concurrent use.
type Estimator struct {
	MinObservations int
	Source          rand.Source
}

func (e Estimator) minObs() int {
	if e.MinObservations <= 0 {
		return DefaultMinObservations
	}
	return e.MinObservations
}

// Historical returns the empirical (1-c) quantile of returns. It makes no
// distributional assumption and is deterministic.
func (e Estimator) Historical(returns []float64, confidence float64) (Estimate, error) {
	if err := validateSeries(returns, e.minObs()); err != nil {
		return Estimate{}, err
	}
	if err := validateConfidence(confidence); err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Method:     Historical,
		Confidence: confidence,
		Value:      Quantile(returns, 1-confidence),
	}, nil
}

// Parametric returns mu + sigma*Phi^-1(1-c) using the sample mean and the
// unbiased sample standard deviation. The result is only as good as the
// assumption that returns are normally distributed.
func (e Estimator) Parametric(returns []float64, confidence float64) (Estimate, error) {
	if err := validateSeries(returns, e.minObs()); err != nil {
		return Estimate{}, err
	}
	if err := validateConfidence(confidence); err != nil {
		return Estimate{}, err
	}
	mu, sigma := sampleStats(returns)
	return Estimate{
		Method:     Parametric,
		Confidence: confidence,
		Value:      mu + sigma*distuv.UnitNormal.Quantile(1-confidence),
	}, nil
}

// MonteCarlo draws simulations samples from N(mu*horizon, sigma*sqrt(horizon))
// and returns their empirical (1-c) quantile.
func (e Estimator) MonteCarlo(returns []float64, confidence float64, simulations, horizon int) (Estimate, error) {
	if err := validateSeries(returns, e.minObs()); err != nil {
		return Estimate{}, err
	}
	if err := validateConfidence(confidence); err != nil {
		return Estimate{}, err
	}
	if simulations <= 0 {
		return Estimate{}, fmt.Errorf("%w: simulation count %d must be positive", ErrInvalidParameter, simulations)
	}
	if horizon <= 0 {
		return Estimate{}, fmt.Errorf("%w: horizon %d must be positive", ErrInvalidParameter, horizon)
	}
	if simulations > MaxSamples {
		return Estimate{}, fmt.Errorf("%w: simulation count %d exceeds %d", ErrInvalidParameter, simulations, MaxSamples)
	}
	mu, sigma := sampleStats(returns)
	if err := requireDispersion(sigma); err != nil {
		return Estimate{}, err
	}

	h := float64(horizon)
	loc, scale := mu*h, sigma*math.Sqrt(h)
	rng := rand.New(sourceOrRandom(e.Source))

	draws := make([]float64, simulations)
	for i := range draws {
		draws[i] = loc + scale*rng.NormFloat64()
	}
	slices.Sort(draws)

	return Estimate{
		Method:     MonteCarlo,
		Confidence: confidence,
		Value:      quantileSorted(draws, 1-confidence),
	}, nil
}

// ---------------------------------------------------------------------------
// Convenience functions using the default minimum sample size
// ---------------------------------------------------------------------------

// HistoricalVaR is Estimator{}.Historical returning only the value.
func HistoricalVaR(returns []float64, confidence float64) (float64, error) {
	est, err := Estimator{}.Historical(returns, confidence)
	return est.Value, err
}

// ParametricVaR is Estimator{}.Parametric returning only the value.
func ParametricVaR(returns []float64, confidence float64) (float64, error) {
	est, err := Estimator{}.Parametric(returns, confidence)
	return est.Value, err
}

// MonteCarloVaR draws from src, which may be nil for an unseeded run.
func MonteCarloVaR(returns []float64, confidence float64, simulations, horizon int, src rand.Source) (float64, error) {
	est, err := Estimator{Source: src}.MonteCarlo(returns, confidence, simulations, horizon)
	return est.Value, err
}

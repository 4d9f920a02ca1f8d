package risk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Simulator generates geometric Brownian motion price paths whose drift and
// volatility are estimated from a return series.
type Simulator struct {
	MinObservations int
	BasePrice       float64
	Source          rand.Source
}

// Simulate returns a paths x (horizon+1) matrix. Column 0 holds BasePrice;
// each later column applies
//
//	price[t] = price[t-1] * exp((mu - sigma^2/2) + sigma*z)
//
// with one independent standard-normal z per path and step. Series that are
// too short or have zero variance are rejected rather than producing flat
// paths.
func (s Simulator) Simulate(returns []float64, paths, horizon int) (*PathSet, error) {
	minObs := s.MinObservations
	if minObs <= 0 {
		minObs = DefaultMinObservations
	}
	if err := validateSeries(returns, minObs); err != nil {
		return nil, err
	}
	if paths <= 0 {
		return nil, fmt.Errorf("%w: path count %d must be positive", ErrInvalidParameter, paths)
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon %d must be positive", ErrInvalidParameter, horizon)
	}
	if horizon == math.MaxInt || paths > math.MaxInt/(horizon+1) {
		return nil, fmt.Errorf("%w: %d paths x %d steps overflows the price matrix", ErrInvalidParameter, paths, horizon)
	}
	if cells := paths * (horizon + 1); cells > MaxSamples {
		return nil, fmt.Errorf("%w: %d paths x %d steps is %d cells, limit %d", ErrInvalidParameter, paths, horizon, cells, MaxSamples)
	}
	base := s.BasePrice
	if base == 0 {
		base = DefaultBasePrice
	}
	if base < 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, fmt.Errorf("%w: base price %v", ErrInvalidParameter, base)
	}

	mu, sigma := sampleStats(returns)
	if err := requireDispersion(sigma); err != nil {
		return nil, err
	}

	drift := mu - 0.5*sigma*sigma
	rng := rand.New(sourceOrRandom(s.Source))
	cols := horizon + 1
	data := make([]float64, paths*cols)
	for i := 0; i < paths; i++ {
		data[i*cols] = base
	}
	// Step-major order: every path advances one step before any path takes
	// the next, matching a vectorized draw per time step.
	for t := 1; t <= horizon; t++ {
		for i := 0; i < paths; i++ {
			prev := data[i*cols+t-1]
			data[i*cols+t] = prev * math.Exp(drift+sigma*rng.NormFloat64())
		}
	}

	return &PathSet{
		prices: mat.NewDense(paths, cols, data),
		base:   base,
		mu:     mu,
		sigma:  sigma,
	}, nil
}

// SimulateGBM runs a Simulator with the default minimum sample size and base
// price.
func SimulateGBM(returns []float64, paths, horizon int, src rand.Source) (*PathSet, error) {
	return Simulator{Source: src}.Simulate(returns, paths, horizon)
}

// PathSet is the simulated price matrix. It is read-only once built.
type PathSet struct {
	prices *mat.Dense
	base   float64
	mu     float64
	sigma  float64
}

// Paths returns the number of simulated paths.
func (p *PathSet) Paths() int {
	r, _ := p.prices.Dims()
	return r
}

// Horizon returns the number of simulated steps.
func (p *PathSet) Horizon() int {
	_, c := p.prices.Dims()
	return c - 1
}

// BasePrice returns the common starting price.
func (p *PathSet) BasePrice() float64 { return p.base }

// Drift returns the per-period sample mean used for the simulation.
func (p *PathSet) Drift() float64 { return p.mu }

// Volatility returns the per-period sample standard deviation used for the
// simulation.
func (p *PathSet) Volatility() float64 { return p.sigma }

// At returns the price of path i at step t.
func (p *PathSet) At(i, t int) float64 { return p.prices.At(i, t) }

// Path returns a copy of path i.
func (p *PathSet) Path(i int) []float64 {
	return mat.Row(nil, i, p.prices)
}

// Column returns a copy of the prices of every path at step t.
func (p *PathSet) Column(t int) []float64 {
	return mat.Col(nil, t, p.prices)
}

// Terminal returns a copy of the final price of every path.
func (p *PathSet) Terminal() []float64 {
	return p.Column(p.Horizon())
}

// TerminalVaR returns the empirical (1-c) percentile of the terminal prices,
// in price space.
func (p *PathSet) TerminalVaR(confidence float64) (float64, error) {
	if err := validateConfidence(confidence); err != nil {
		return 0, err
	}
	return Quantile(p.Terminal(), 1-confidence), nil
}

// LossPercent converts the terminal VaR to a percentage move from the base
// price, as an absolute value.
func (p *PathSet) LossPercent(confidence float64) (float64, error) {
	v, err := p.TerminalVaR(confidence)
	if err != nil {
		return 0, err
	}
	return math.Abs(v-p.base) / p.base * 100, nil
}

// MeanTerminal returns the average final price.
func (p *PathSet) MeanTerminal() float64 {
	return stat.Mean(p.Terminal(), nil)
}

// MedianTerminal returns the median final price.
func (p *PathSet) MedianTerminal() float64 {
	return Quantile(p.Terminal(), 0.5)
}

// SortedTerminal returns the terminal prices in ascending order.
func (p *PathSet) SortedTerminal() []float64 {
	t := p.Terminal()
	slices.Sort(t)
	return t
}

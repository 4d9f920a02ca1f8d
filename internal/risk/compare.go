package risk

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
)

// Recommendation is the comparator's verdict at the primary confidence level.
type Recommendation struct {
	Method     Method
	Confidence float64
	Spread     float64
	Threshold  float64
	// Diverged is set when Spread exceeds Threshold.
	Diverged bool
}

// Recommend applies the divergence rule to one level's estimates: a spread
// above threshold prefers the assumption-free historical method, otherwise
// the parametric method is good enough.
func Recommend(estimates map[Method]Estimate, confidence, threshold float64) Recommendation {
	rec := Recommendation{Confidence: confidence, Threshold: threshold, Method: Parametric}
	if len(estimates) == 0 {
		return rec
	}
	first := true
	var lo, hi float64
	for _, est := range estimates {
		if first {
			lo, hi = est.Value, est.Value
			first = false
			continue
		}
		lo = min(lo, est.Value)
		hi = max(hi, est.Value)
	}
	rec.Spread = hi - lo
	if rec.Spread > threshold {
		rec.Method = Historical
		rec.Diverged = true
	}
	return rec
}

// Comparison holds every method's estimate at every requested level plus the
// recommendation. It is not modified after Compare returns.
type Comparison struct {
	levels         []float64
	estimates      map[float64]map[Method]Estimate
	recommendation Recommendation
}

// Levels returns the compared confidence levels in request order.
func (c *Comparison) Levels() []float64 {
	return slices.Clone(c.levels)
}

// Estimate returns one method's estimate at one level.
func (c *Comparison) Estimate(confidence float64, m Method) (Estimate, bool) {
	est, ok := c.estimates[confidence][m]
	return est, ok
}

// At returns a copy of all estimates at one level.
func (c *Comparison) At(confidence float64) map[Method]Estimate {
	return maps.Clone(c.estimates[confidence])
}

// Recommendation returns the verdict at the primary level.
func (c *Comparison) Recommendation() Recommendation {
	return c.recommendation
}

// Comparator runs all three estimators over a set of confidence levels.
type Comparator struct {
	Params Params
	Source rand.Source
}

// NewComparator returns a Comparator with params completed by defaults.
func NewComparator(params Params, src rand.Source) *Comparator {
	return &Comparator{Params: params.WithDefaults(), Source: src}
}

// Compare evaluates every method at every level in levels (Params.Confidences
// when empty). Duplicate levels are evaluated once. Any failing method fails
// the whole comparison with a *MethodError.
func (c *Comparator) Compare(returns []float64, levels []float64) (*Comparison, error) {
	p := c.Params.WithDefaults()
	if len(levels) == 0 {
		levels = p.Confidences
	}
	if p.DivergenceThreshold < 0 {
		return nil, fmt.Errorf("%w: divergence threshold %v is negative", ErrInvalidParameter, p.DivergenceThreshold)
	}

	var ordered []float64
	for _, lvl := range levels {
		if !slices.Contains(ordered, lvl) {
			ordered = append(ordered, lvl)
		}
	}

	est := Estimator{MinObservations: p.MinObservations, Source: sourceOrRandom(c.Source)}
	results := make(map[float64]map[Method]Estimate, len(ordered))
	for _, lvl := range ordered {
		row := make(map[Method]Estimate, 3)
		for _, m := range Methods() {
			var (
				e   Estimate
				err error
			)
			switch m {
			case Historical:
				e, err = est.Historical(returns, lvl)
			case Parametric:
				e, err = est.Parametric(returns, lvl)
			case MonteCarlo:
				e, err = est.MonteCarlo(returns, lvl, p.Simulations, p.Horizon)
			}
			if err != nil {
				return nil, &MethodError{Method: m, Confidence: lvl, Err: err}
			}
			row[m] = e
		}
		results[lvl] = row
	}

	primary := p.PrimaryConfidence
	if _, ok := results[primary]; !ok {
		primary = ordered[0]
	}

	return &Comparison{
		levels:         ordered,
		estimates:      results,
		recommendation: Recommend(results[primary], primary, p.DivergenceThreshold),
	}, nil
}

// CompareVaR runs a default Comparator over returns.
func CompareVaR(returns []float64, levels []float64, src rand.Source) (*Comparison, error) {
	return NewComparator(Params{}, src).Compare(returns, levels)
}

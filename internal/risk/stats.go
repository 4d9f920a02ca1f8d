package risk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// degenerateSigma is the standard deviation below which a series is treated
// as constant.
const degenerateSigma = 1e-12

// validateSeries checks length first, then that every value is finite.
func validateSeries(returns []float64, minObs int) error {
	if minObs < 2 {
		minObs = 2
	}
	if len(returns) < minObs {
		return fmt.Errorf("%w: %d observations, need at least %d", ErrInsufficientData, len(returns), minObs)
	}
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: non-finite return at index %d", ErrInvalidParameter, i)
		}
	}
	return nil
}

func validateConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence <= 0 || confidence >= 1 {
		return fmt.Errorf("%w: confidence %v outside (0,1)", ErrInvalidParameter, confidence)
	}
	return nil
}

// sampleStats returns the sample mean and the unbiased (n-1) standard
// deviation.
func sampleStats(returns []float64) (mu, sigma float64) {
	return stat.MeanStdDev(returns, nil)
}

func requireDispersion(sigma float64) error {
	if math.IsNaN(sigma) || sigma < degenerateSigma {
		return fmt.Errorf("%w: zero-variance return series", ErrDegenerateInput)
	}
	return nil
}

// Quantile returns the empirical p-quantile of values using the nearest-rank
// rule on the closed [0, n-1] scale: index round-half-even(p*(n-1)) of the
// ascending sort. values is not modified. p must lie in [0,1] and values must
// not be empty.
func Quantile(values []float64, p float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	return quantileSorted(sorted, p)
}

func quantileSorted(sorted []float64, p float64) float64 {
	idx := int(math.RoundToEven(p * float64(len(sorted)-1)))
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// NewSource returns a PCG source seeded from seed. Two sources built from
// the same seed produce identical draws.
func NewSource(seed uint64) rand.Source {
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}

// RandomSource returns a source seeded from the runtime's global generator.
func RandomSource() rand.Source {
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

func sourceOrRandom(src rand.Source) rand.Source {
	if src == nil {
		return RandomSource()
	}
	return src
}

package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestSimulateShapeAndBase(t *testing.T) {
	returns := normalSeries(250, 0.0004, 0.012, 13)

	for _, horizon := range []int{1, 5, 30} {
		ps, err := SimulateGBM(returns, 500, horizon, NewSource(3))
		require.NoError(t, err)

		assert.Equal(t, 500, ps.Paths())
		assert.Equal(t, horizon, ps.Horizon())
		assert.Equal(t, DefaultBasePrice, ps.BasePrice())

		for i := 0; i < ps.Paths(); i++ {
			require.Equal(t, 100.0, ps.At(i, 0), "path %d horizon %d", i, horizon)
		}
		assert.Len(t, ps.Path(0), horizon+1)
		assert.Len(t, ps.Terminal(), 500)
	}
}

func TestSimulateRecursion(t *testing.T) {
	returns := normalSeries(100, 0.001, 0.02, 17)
	ps, err := SimulateGBM(returns, 50, 4, NewSource(5))
	require.NoError(t, err)

	mu, sigma := stat.MeanStdDev(returns, nil)
	assert.InDelta(t, mu, ps.Drift(), 1e-15)
	assert.InDelta(t, sigma, ps.Volatility(), 1e-15)

	// Every step is a positive multiplicative move.
	for i := 0; i < ps.Paths(); i++ {
		path := ps.Path(i)
		for step := 1; step < len(path); step++ {
			assert.Greater(t, path[step], 0.0)
			assert.NotEqual(t, path[step-1], path[step])
		}
	}
}

func TestSimulateTerminalMedian(t *testing.T) {
	returns := normalSeries(500, 0.0005, 0.01, 23)
	mu, sigma := stat.MeanStdDev(returns, nil)

	const horizon = 20
	ps, err := SimulateGBM(returns, 40000, horizon, NewSource(99))
	require.NoError(t, err)

	want := 100 * math.Exp((mu-0.5*sigma*sigma)*horizon)
	assert.InDelta(t, want, ps.MedianTerminal(), 0.5)
}

func TestSimulateReproducible(t *testing.T) {
	returns := normalSeries(80, 0, 0.015, 31)

	a, err := SimulateGBM(returns, 200, 10, NewSource(8))
	require.NoError(t, err)
	b, err := SimulateGBM(returns, 200, 10, NewSource(8))
	require.NoError(t, err)

	assert.Equal(t, a.Terminal(), b.Terminal())
}

func TestSimulateLongerHorizonKeepsBase(t *testing.T) {
	returns := normalSeries(80, 0, 0.015, 31)

	short, err := SimulateGBM(returns, 100, 2, NewSource(8))
	require.NoError(t, err)
	long, err := SimulateGBM(returns, 100, 60, NewSource(8))
	require.NoError(t, err)

	assert.Equal(t, short.Column(0), long.Column(0))
}

func TestSimulateRejects(t *testing.T) {
	good := normalSeries(60, 0, 0.01, 2)

	_, err := SimulateGBM(nil, 100, 10, NewSource(1))
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = SimulateGBM(constantSeries(60, 0.002), 100, 10, NewSource(1))
	assert.ErrorIs(t, err, ErrDegenerateInput)

	_, err = SimulateGBM(good, 0, 10, NewSource(1))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = SimulateGBM(good, 100, 0, NewSource(1))
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = Simulator{BasePrice: -5, Source: NewSource(1)}.Simulate(good, 100, 10)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestSimulateRejectsOversizedMatrix(t *testing.T) {
	good := normalSeries(40, 0, 0.01, 2)

	tests := []struct {
		name    string
		paths   int
		horizon int
	}{
		// 2^32 * (2^32+1) wraps to 2^32 in int64 arithmetic.
		{"product overflows", 1 << 32, 1 << 32},
		{"horizon at max int", 2, math.MaxInt},
		{"paths at max int", math.MaxInt, 1},
		{"above cell limit", MaxSamples/11 + 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SimulateGBM(good, tt.paths, tt.horizon, NewSource(1))
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	ps, err := SimulateGBM(good, 10, 5, NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, 10, ps.Paths())
}

func TestTerminalVaR(t *testing.T) {
	returns := normalSeries(300, 0.0002, 0.013, 41)
	ps, err := SimulateGBM(returns, 2000, 30, NewSource(4))
	require.NoError(t, err)

	v95, err := ps.TerminalVaR(0.95)
	require.NoError(t, err)
	assert.Equal(t, Quantile(ps.Terminal(), 0.05), v95)

	v99, err := ps.TerminalVaR(0.99)
	require.NoError(t, err)
	assert.Less(t, v99, v95)

	loss, err := ps.LossPercent(0.95)
	require.NoError(t, err)
	assert.InDelta(t, math.Abs(v95-100), loss, 1e-9)

	_, err = ps.TerminalVaR(1)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	sorted := ps.SortedTerminal()
	assert.True(t, sorted[0] <= sorted[len(sorted)-1])
	assert.InDelta(t, stat.Mean(ps.Terminal(), nil), ps.MeanTerminal(), 1e-9)
}

func TestCustomBasePrice(t *testing.T) {
	returns := normalSeries(60, 0, 0.01, 2)
	ps, err := Simulator{BasePrice: 250, Source: NewSource(1)}.Simulate(returns, 10, 3)
	require.NoError(t, err)
	for _, v := range ps.Column(0) {
		assert.Equal(t, 250.0, v)
	}
}

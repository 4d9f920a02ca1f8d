package gather

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varengine/internal/config"
	"varengine/internal/domain"
	"varengine/internal/metrics"
	"varengine/internal/risk"
	"varengine/internal/store"
)

// fakeSource serves a fixed bar set, optionally failing the first calls.
type fakeSource struct {
	name      domain.Source
	bars      []domain.Bar
	err       error
	failFirst int32
	calls     atomic.Int32
}

func (f *fakeSource) Name() domain.Source { return f.name }

func (f *fakeSource) FetchBars(_ context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	n := f.calls.Add(1)
	if n <= f.failFirst {
		return nil, fmt.Errorf("transient failure %d", n)
	}
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Bar
	for _, b := range f.bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			b.Symbol = symbol
			out = append(out, b)
		}
	}
	return out, nil
}

// walkBars builds n daily bars starting 2024-01-01 with a deterministic
// zig-zag close.
func walkBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	px := 100.0
	for i := range bars {
		if i%3 == 0 {
			px *= 0.99
		} else {
			px *= 1.012
		}
		bars[i] = domain.Bar{Timestamp: date(2024, 1, 1).AddDate(0, 0, i), Close: px}
	}
	return bars
}

func testOptions() LoaderOptions {
	return LoaderOptions{
		MinObservations: 30,
		Timeout:         time.Second,
		MaxAttempts:     3,
		RetryBaseDelay:  0,
		RateLimitPerMin: 0,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
		CacheTTL:        time.Hour,
	}
}

func fixedNow(l *Loader) {
	l.now = func() time.Time { return date(2024, 12, 31) }
}

func TestLoaderLoadReturns(t *testing.T) {
	src := &fakeSource{name: domain.SourceYahoo, bars: walkBars(60)}
	l := NewLoader([]Source{src}, nil, nil, testOptions(), nil, nil)
	fixedNow(l)

	series, err := l.Load(context.Background(), "spy", date(2024, 1, 1), date(2024, 2, 29))
	require.NoError(t, err)

	assert.Equal(t, "SPY", series.Symbol)
	assert.Equal(t, domain.SourceYahoo, series.Source)
	assert.Equal(t, 59, series.Len())
	assert.Len(t, series.Dates, 59)
	assert.InDelta(t, 0.012, series.Values[0], 1e-12)
	assert.InDelta(t, 0.012, series.Values[1], 1e-12)
	assert.InDelta(t, -0.01, series.Values[2], 1e-12)
}

func TestLoaderRejectsShortHistory(t *testing.T) {
	// 30 closes give 29 returns.
	src := &fakeSource{name: domain.SourceYahoo, bars: walkBars(30)}
	l := NewLoader([]Source{src}, nil, nil, testOptions(), nil, nil)
	fixedNow(l)

	_, err := l.Load(context.Background(), "SPY", date(2024, 1, 1), date(2024, 12, 31))
	assert.ErrorIs(t, err, risk.ErrInsufficientData)

	src.bars = walkBars(31)
	series, err := l.Load(context.Background(), "SPY", date(2024, 1, 1), date(2024, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, 30, series.Len())
}

func TestLoaderValidatesInput(t *testing.T) {
	l := NewLoader([]Source{&fakeSource{name: domain.SourceYahoo}}, nil, nil, testOptions(), nil, nil)
	fixedNow(l)

	_, err := l.Load(context.Background(), "  ", date(2024, 1, 1), time.Time{})
	assert.ErrorIs(t, err, risk.ErrInvalidParameter)

	_, err = l.Load(context.Background(), "SPY", date(2025, 1, 1), date(2024, 1, 1))
	assert.ErrorIs(t, err, risk.ErrInvalidParameter)

	empty := NewLoader(nil, nil, nil, testOptions(), nil, nil)
	_, err = empty.Load(context.Background(), "SPY", date(2024, 1, 1), time.Time{})
	assert.ErrorIs(t, err, ErrFetch)
}

func TestLoaderRetriesTransientFailures(t *testing.T) {
	src := &fakeSource{name: domain.SourceYahoo, bars: walkBars(40), failFirst: 2}
	l := NewLoader([]Source{src}, nil, nil, testOptions(), nil, nil)
	fixedNow(l)

	_, err := l.Load(context.Background(), "SPY", date(2024, 1, 1), date(2024, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestLoaderUpstreamFailure(t *testing.T) {
	src := &fakeSource{name: domain.SourceYahoo, err: errors.New("connection reset")}
	m := metrics.New()
	l := NewLoader([]Source{src}, nil, nil, testOptions(), m, nil)
	fixedNow(l)

	_, err := l.Load(context.Background(), "SPY", date(2024, 1, 1), date(2024, 12, 31))
	assert.ErrorIs(t, err, ErrFetch)
	assert.NotErrorIs(t, err, risk.ErrInsufficientData)
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestLoaderUnknownSymbolFallsBack(t *testing.T) {
	alpaca := &fakeSource{name: domain.SourceAlpaca, err: fmt.Errorf("alpaca ^VIX: %w", ErrUnknownSymbol)}
	yahoo := &fakeSource{name: domain.SourceYahoo, bars: walkBars(40)}
	l := NewLoader([]Source{alpaca, yahoo}, nil, nil, testOptions(), nil, nil)
	fixedNow(l)

	series, err := l.Load(context.Background(), "^VIX", date(2024, 1, 1), date(2024, 12, 31))
	require.NoError(t, err)
	assert.Equal(t, domain.SourceYahoo, series.Source)
	assert.Equal(t, int32(1), alpaca.calls.Load(), "unknown symbol must not be retried")
	assert.Equal(t, []domain.Source{domain.SourceAlpaca, domain.SourceYahoo}, l.Sources())

	// Unknown everywhere is missing data, not an outage.
	yahoo.err = fmt.Errorf("yahoo ^VIX: %w", ErrUnknownSymbol)
	_, err = l.Load(context.Background(), "^VIX", date(2024, 1, 1), date(2024, 12, 31))
	assert.ErrorIs(t, err, risk.ErrInsufficientData)
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestLoaderCircuitBreakerOpens(t *testing.T) {
	src := &fakeSource{name: domain.SourceYahoo, err: errors.New("503")}
	opts := testOptions()
	opts.MaxAttempts = 1
	opts.BreakerFailures = 2
	l := NewLoader([]Source{src}, nil, nil, opts, nil, nil)
	fixedNow(l)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := l.Load(ctx, "SPY", date(2024, 1, 1), date(2024, 12, 31))
		assert.ErrorIs(t, err, ErrFetch)
	}
	_, err := l.Load(ctx, "SPY", date(2024, 1, 1), date(2024, 12, 31))
	assert.ErrorIs(t, err, ErrFetch)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), src.calls.Load(), "open breaker must short-circuit the source")
}

func TestLoaderCache(t *testing.T) {
	dir := t.TempDir()
	bars := store.NewParquetStore(filepath.Join(dir, "data"))
	fetchLog, err := store.NewSQLiteStore(filepath.Join(dir, "varengine.db"))
	require.NoError(t, err)
	defer fetchLog.Close()

	src := &fakeSource{name: domain.SourceYahoo, bars: walkBars(90)}
	m := metrics.New()
	l := NewLoader([]Source{src}, bars, fetchLog, testOptions(), m, nil)
	fixedNow(l)

	ctx := context.Background()
	first, err := l.Load(ctx, "QQQ", date(2024, 1, 1), date(2024, 3, 1))
	require.NoError(t, err)
	second, err := l.Load(ctx, "QQQ", date(2024, 1, 15), date(2024, 2, 20))
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.calls.Load(), "covered range must be served from cache")
	assert.Equal(t, first.Values[14:14+second.Len()], second.Values)

	symbols, err := bars.ListSymbols(ctx, domain.SourceYahoo)
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ"}, symbols)

	// A wider range is not covered and downloads again.
	_, err = l.Load(ctx, "QQQ", date(2023, 12, 1), date(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Risk.MinObservations = 45

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 45, opts.MinObservations)
	assert.Equal(t, cfg.Loader.CacheTTL, opts.CacheTTL)

	cfg.Loader.Source = "yahoo"
	srcs, err := BuildSources(cfg, nil)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, domain.SourceYahoo, srcs[0].Name())

	cfg.Loader.Source = "auto"
	cfg.Alpaca.APIKey, cfg.Alpaca.APISecret = "k", "s"
	srcs, err = BuildSources(cfg, nil)
	require.NoError(t, err)
	require.Len(t, srcs, 2)
	assert.Equal(t, domain.SourceAlpaca, srcs[0].Name())

	cfg.Loader.Source = "bloomberg"
	_, err = BuildSources(cfg, nil)
	assert.Error(t, err)
}

package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"varengine/internal/config"
	"varengine/internal/domain"
	"varengine/internal/metrics"
	"varengine/internal/risk"
	"varengine/internal/store"
	"varengine/internal/util"
)

// LoaderOptions tunes the network and cache behaviour of a Loader. Zero
// fields take the defaults of config.LoaderConfig.
type LoaderOptions struct {
	MinObservations int
	Timeout         time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	RateLimitPerMin int
	BreakerFailures int
	BreakerTimeout  time.Duration
	CacheTTL        time.Duration
}

func (o LoaderOptions) withDefaults() LoaderOptions {
	if o.MinObservations <= 0 {
		o.MinObservations = risk.DefaultMinObservations
	}
	if o.Timeout <= 0 {
		o.Timeout = 20 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBaseDelay < 0 {
		o.RetryBaseDelay = 0
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	return o
}

// OptionsFromConfig maps the loader and risk sections onto LoaderOptions.
func OptionsFromConfig(cfg *config.Config) LoaderOptions {
	return LoaderOptions{
		MinObservations: cfg.Risk.MinObservations,
		Timeout:         cfg.Loader.Timeout,
		MaxAttempts:     cfg.Loader.MaxAttempts,
		RetryBaseDelay:  cfg.Loader.RetryBaseDelay,
		RateLimitPerMin: cfg.Loader.RateLimitPerMin,
		BreakerFailures: cfg.Loader.BreakerFailures,
		BreakerTimeout:  cfg.Loader.BreakerTimeout,
		CacheTTL:        cfg.Loader.CacheTTL,
	}
}

// BuildSources returns the sources selected by cfg.Loader.Source in the order
// they are tried. "auto" prefers Alpaca when credentials are set and always
// falls back to Yahoo.
func BuildSources(cfg *config.Config, client *http.Client) ([]Source, error) {
	yahoo := NewYahooSource(cfg.Yahoo.BaseURL, cfg.Yahoo.UserAgent, client)
	switch cfg.Loader.Source {
	case "yahoo":
		return []Source{yahoo}, nil
	case "alpaca":
		if !cfg.Alpaca.Enabled() {
			return nil, errors.New("alpaca source selected without credentials")
		}
		return []Source{NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)}, nil
	case "", "auto":
		if cfg.Alpaca.Enabled() {
			alpaca := NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
			return []Source{alpaca, yahoo}, nil
		}
		return []Source{yahoo}, nil
	default:
		return nil, fmt.Errorf("unknown loader source %q", cfg.Loader.Source)
	}
}

// Loader turns a symbol and date range into a validated return series. It
// serves from the bar cache when the fetch log says the range is fresh and
// otherwise downloads through a rate limiter, a per-source circuit breaker
// and a retry loop. It never returns an empty series: short or missing data
// is reported as risk.ErrInsufficientData and upstream failures as ErrFetch.
type Loader struct {
	sources  []Source
	breakers map[domain.Source]*gobreaker.CircuitBreaker
	bars     store.BarStore
	fetchLog store.FetchLog
	limiter  *util.RateLimiter
	opts     LoaderOptions
	metrics  *metrics.Registry
	log      *slog.Logger
	now      func() time.Time
}

// NewLoader creates a Loader. bars and fetchLog may both be nil to disable
// caching; m may be nil.
func NewLoader(sources []Source, bars store.BarStore, fetchLog store.FetchLog, opts LoaderOptions, m *metrics.Registry, log *slog.Logger) *Loader {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{
		sources:  sources,
		breakers: make(map[domain.Source]*gobreaker.CircuitBreaker, len(sources)),
		bars:     bars,
		fetchLog: fetchLog,
		limiter:  util.NewRateLimiter(opts.RateLimitPerMin),
		opts:     opts,
		metrics:  m,
		log:      log.With("component", "loader"),
		now:      time.Now,
	}
	for _, src := range sources {
		l.breakers[src.Name()] = newBreaker(string(src.Name()), opts, l.log)
	}
	return l
}

func newBreaker(name string, opts LoaderOptions, log *slog.Logger) *gobreaker.CircuitBreaker {
	failures := uint32(opts.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: time.Minute,
		Timeout:  opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Answers about the symbol or the request say nothing about the
		// health of the upstream.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrUnknownSymbol) ||
				errors.Is(err, context.Canceled) ||
				util.IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "source", name, "from", from.String(), "to", to.String())
		},
	})
}

// Sources lists the configured source names in the order they are tried.
func (l *Loader) Sources() []domain.Source {
	out := make([]domain.Source, len(l.sources))
	for i, s := range l.sources {
		out[i] = s.Name()
	}
	return out
}

// Load returns the simple return series of symbol over [start, end]. A zero
// end means today.
func (l *Loader) Load(ctx context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error) {
	bars, src, rng, err := l.loadBars(ctx, symbol, start, end)
	if err != nil {
		return domain.ReturnSeries{}, err
	}

	bars = usableBars(bars)
	need := l.opts.MinObservations + 1
	if len(bars) < need {
		return domain.ReturnSeries{}, fmt.Errorf("%w: %s has %d priced sessions between %s and %s, need at least %d",
			risk.ErrInsufficientData, symbol, len(bars), rng.Start.Format(time.DateOnly), rng.End.Format(time.DateOnly), need)
	}

	dates, values := SimpleReturns(bars)
	if len(values) < l.opts.MinObservations {
		return domain.ReturnSeries{}, fmt.Errorf("%w: %s has %d usable returns, need at least %d",
			risk.ErrInsufficientData, symbol, len(values), l.opts.MinObservations)
	}

	return domain.ReturnSeries{
		Symbol: strings.ToUpper(symbol),
		Source: src,
		Start:  rng.Start,
		End:    rng.End,
		Dates:  dates,
		Values: values,
	}, nil
}

// LoadBars returns raw daily bars without the minimum-length check. It is
// used by the cache warmer.
func (l *Loader) LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, domain.Source, error) {
	bars, src, _, err := l.loadBars(ctx, symbol, start, end)
	return bars, src, err
}

func (l *Loader) loadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, domain.Source, DateRange, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, "", DateRange{}, fmt.Errorf("%w: symbol is required", risk.ErrInvalidParameter)
	}
	rng, err := DateRange{Start: start, End: end}.Normalize(l.now())
	if err != nil {
		return nil, "", rng, fmt.Errorf("%w: %v", risk.ErrInvalidParameter, err)
	}
	if len(l.sources) == 0 {
		return nil, "", rng, fmt.Errorf("%w: no data sources configured", ErrFetch)
	}

	var (
		lastErr  error
		allEmpty = true
	)
	for _, src := range l.sources {
		name := src.Name()

		if bars, ok := l.cached(ctx, symbol, name, rng); ok {
			l.metrics.CacheHit(string(name))
			l.log.Debug("cache hit", "symbol", symbol, "source", name, "bars", len(bars))
			return bars, name, rng, nil
		}

		bars, err := l.fetch(ctx, src, symbol, rng)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", rng, ctx.Err()
			}
			if !errors.Is(err, ErrUnknownSymbol) {
				allEmpty = false
			}
			lastErr = err
			l.log.Warn("source failed", "symbol", symbol, "source", name, "err", err)
			continue
		}

		l.remember(ctx, symbol, name, rng, bars)
		return bars, name, rng, nil
	}

	if allEmpty {
		return nil, "", rng, fmt.Errorf("%w: no data for %s: %w", risk.ErrInsufficientData, symbol, lastErr)
	}
	return nil, "", rng, fmt.Errorf("%w: %s: %w", ErrFetch, symbol, lastErr)
}

func (l *Loader) cached(ctx context.Context, symbol string, name domain.Source, rng DateRange) ([]domain.Bar, bool) {
	if l.bars == nil || l.fetchLog == nil || l.opts.CacheTTL <= 0 {
		return nil, false
	}
	ok, err := l.fetchLog.Covered(ctx, symbol, name, rng.Start, rng.End, l.opts.CacheTTL)
	if err != nil {
		l.log.Warn("fetch log lookup failed", "symbol", symbol, "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	bars, err := l.bars.ReadBars(ctx, symbol, name, rng.Start, rng.End.Add(24*time.Hour-time.Nanosecond))
	if err != nil {
		l.log.Warn("bar cache read failed", "symbol", symbol, "err", err)
		return nil, false
	}
	return bars, len(bars) > 0
}

func (l *Loader) remember(ctx context.Context, symbol string, name domain.Source, rng DateRange, bars []domain.Bar) {
	if l.bars == nil || l.fetchLog == nil {
		return
	}
	if err := l.bars.WriteBars(ctx, name, bars); err != nil {
		l.log.Warn("bar cache write failed", "symbol", symbol, "err", err)
		return
	}
	err := l.fetchLog.Record(ctx, store.Fetch{
		Symbol: symbol,
		Source: name,
		Start:  rng.Start,
		End:    rng.End,
		Bars:   len(bars),
	})
	if err != nil {
		l.log.Warn("fetch log write failed", "symbol", symbol, "err", err)
	}
}

// fetch downloads through the limiter, the breaker and the retry loop.
func (l *Loader) fetch(ctx context.Context, src Source, symbol string, rng DateRange) ([]domain.Bar, error) {
	name := src.Name()
	cb := l.breakers[name]

	var bars []domain.Bar
	err := util.Retry(ctx, l.opts.MaxAttempts, l.opts.RetryBaseDelay, func() error {
		if err := l.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}

		began := time.Now()
		out, err := cb.Execute(func() (interface{}, error) {
			cctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
			defer cancel()
			return src.FetchBars(cctx, symbol, rng.Start, rng.End)
		})
		l.metrics.ObserveFetch(string(name), fetchOutcome(err), time.Since(began))

		switch {
		case err == nil:
			bars = out.([]domain.Bar)
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return util.Permanent(err)
		case errors.Is(err, ErrUnknownSymbol):
			return util.Permanent(err)
		default:
			l.log.Debug("fetch attempt failed", "symbol", symbol, "source", name, "err", err)
			return err
		}
	})
	return bars, err
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

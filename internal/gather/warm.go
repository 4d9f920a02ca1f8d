package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Compile-time interface check.
var _ Gatherer = (*WarmGatherer)(nil)

// WarmGatherer preloads the bar cache for a list of symbols so later
// analyses are served locally.
type WarmGatherer struct {
	loader     *Loader
	symbols    []string
	rng        DateRange
	maxWorkers int
	log        *slog.Logger
}

// NewWarmGatherer creates a WarmGatherer. maxWorkers below one means one.
func NewWarmGatherer(loader *Loader, symbols []string, start, end time.Time, maxWorkers int) *WarmGatherer {
	return &WarmGatherer{
		loader:     loader,
		symbols:    symbols,
		rng:        DateRange{Start: start, End: end},
		maxWorkers: max(maxWorkers, 1),
		log:        slog.Default().With("gatherer", "warm-cache"),
	}
}

// Name returns the gatherer identifier.
func (g *WarmGatherer) Name() string { return "warm-cache" }

// Result summarises one symbol of a warm run.
type Result struct {
	Symbol string
	Source string
	Bars   int
	Err    error
}

// Run loads every symbol and returns the joined per-symbol failures.
func (g *WarmGatherer) Run(ctx context.Context) error {
	_, err := g.RunWithResults(ctx)
	return err
}

// RunWithResults is Run that also reports each symbol's outcome, in input
// order.
func (g *WarmGatherer) RunWithResults(ctx context.Context) ([]Result, error) {
	results := make([]Result, len(g.symbols))
	idxCh := make(chan int, len(g.symbols))
	for i := range g.symbols {
		idxCh <- i
	}
	close(idxCh)

	var (
		wg       sync.WaitGroup
		loaded   atomic.Int64
		runStart = time.Now()
	)

	g.log.Info("starting warm-cache", "symbols", len(g.symbols), "workers", g.maxWorkers)

	workers := min(g.maxWorkers, len(g.symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				sym := strings.ToUpper(g.symbols[i])
				if ctx.Err() != nil {
					results[i] = Result{Symbol: sym, Err: ctx.Err()}
					continue
				}
				bars, src, err := g.loader.LoadBars(ctx, sym, g.rng.Start, g.rng.End)
				results[i] = Result{Symbol: sym, Source: string(src), Bars: len(bars), Err: err}
				if err != nil {
					g.log.Error("warm failed", "symbol", sym, "err", err)
					continue
				}
				loaded.Add(1)
				g.log.Info("warmed", "symbol", sym, "source", src, "bars", len(bars))
			}
		}()
	}
	wg.Wait()

	g.log.Info("warm-cache done",
		"loaded", loaded.Load(),
		"failed", int64(len(g.symbols))-loaded.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Symbol, r.Err))
		}
	}
	return results, errors.Join(errs...)
}

// Package gather downloads daily bars from upstream providers, caches them
// and turns closes into the return series the risk engine consumes.
package gather

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"varengine/internal/domain"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run executes the gathering process. It returns when the work is done
	// or ctx is cancelled.
	Run(ctx context.Context) error
}

// Source downloads daily bars for one symbol from one provider.
type Source interface {
	// Name identifies the provider; it also names the cache directory.
	Name() domain.Source
	// FetchBars returns daily bars in [start, end], oldest first. A symbol
	// the provider does not know yields an error wrapping ErrUnknownSymbol.
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

var (
	// ErrFetch reports that the upstream could not deliver data after
	// retries, or that its circuit breaker is open.
	ErrFetch = errors.New("fetch failed")

	// ErrUnknownSymbol reports that a provider has no data for a symbol.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Normalize truncates both ends to UTC midnight and fills a zero End with
// today. It returns an error when Start is zero or after End.
func (r DateRange) Normalize(now time.Time) (DateRange, error) {
	if r.End.IsZero() {
		r.End = now
	}
	r.Start = truncateDay(r.Start)
	r.End = truncateDay(r.End)
	if r.Start.IsZero() || r.Start.Year() <= 1 {
		return r, errors.New("start date is required")
	}
	if r.Start.After(r.End) {
		return r, fmt.Errorf("start %s is after end %s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	return r, nil
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseLookback turns a lookback like "90d", "6m" or "2y" into the start date
// that many days, months or years before now.
func ParseLookback(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid lookback %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid lookback %q", s)
	}
	now = truncateDay(now)
	switch s[len(s)-1] {
	case 'd':
		return now.AddDate(0, 0, -n), nil
	case 'w':
		return now.AddDate(0, 0, -7*n), nil
	case 'm':
		return now.AddDate(0, -n, 0), nil
	case 'y':
		return now.AddDate(-n, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("invalid lookback unit in %q", s)
	}
}

// ParseDate accepts YYYY-MM-DD or a lookback such as "2y".
func ParseDate(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return ParseLookback(s, now)
}

// Package store persists downloaded daily bars and a log of completed
// fetches so repeated analyses do not hit the upstream providers again.
package store

import (
	"context"
	"time"

	"varengine/internal/domain"
)

// BarStore persists and retrieves daily OHLCV bars per source.
type BarStore interface {
	// WriteBars persists a batch of bars downloaded from source.
	WriteBars(ctx context.Context, source domain.Source, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and source within
	// [start, end], ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, source domain.Source, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols cached for the given source.
	ListSymbols(ctx context.Context, source domain.Source) ([]string, error)
}

// Fetch records one completed download.
type Fetch struct {
	Symbol    string
	Source    domain.Source
	Start     time.Time
	End       time.Time
	Bars      int
	FetchedAt time.Time
}

// FetchLog remembers which ranges have been downloaded and when.
type FetchLog interface {
	// Record stores a completed fetch.
	Record(ctx context.Context, f Fetch) error

	// Covered reports whether a fetch no older than ttl already spans
	// [start, end] for the symbol and source.
	Covered(ctx context.Context, symbol string, source domain.Source, start, end time.Time, ttl time.Duration) (bool, error)

	// Recent returns the latest fetches, newest first, up to limit.
	Recent(ctx context.Context, limit int) ([]Fetch, error)
}

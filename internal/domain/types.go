// Package domain holds the plain data types shared by the loader, the stores
// and the presentation layers.
package domain

import "time"

// Source identifies the upstream provider of daily bars.
type Source string

const (
	SourceAlpaca Source = "alpaca"
	SourceYahoo  Source = "yahoo"
)

// Bar is one daily OHLCV bar. Close is split/dividend adjusted when the
// provider offers it.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// ReturnSeries is the simple (percentage change) return series derived from
// consecutive closes. Dates[i] is the session that ends the period of
// Values[i].
type ReturnSeries struct {
	Symbol string
	Source Source
	Start  time.Time
	End    time.Time
	Dates  []time.Time
	Values []float64
}

// Len returns the number of returns.
func (s ReturnSeries) Len() int { return len(s.Values) }

// Closes converts bars into a close price slice in bar order.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

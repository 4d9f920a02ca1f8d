package gather

import (
	"math"
	"time"

	"varengine/internal/domain"
)

// SimpleReturns converts bars into period-over-period percentage changes,
// close[i]/close[i-1] - 1. Periods whose result is not finite (a zero or
// missing close) are dropped along with their date.
func SimpleReturns(bars []domain.Bar) (dates []time.Time, values []float64) {
	if len(bars) < 2 {
		return nil, nil
	}
	dates = make([]time.Time, 0, len(bars)-1)
	values = make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		r := bars[i].Close/bars[i-1].Close - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		dates = append(dates, bars[i].Timestamp)
		values = append(values, r)
	}
	return dates, values
}

// usableBars drops bars without a positive finite close.
func usableBars(bars []domain.Bar) []domain.Bar {
	out := bars[:0:0]
	for _, b := range bars {
		if b.Close > 0 && !math.IsInf(b.Close, 0) {
			out = append(out, b)
		}
	}
	return out
}

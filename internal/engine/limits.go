package engine

import "math"

// RiskManager checks reports against the configured loss limit. It only
// annotates; estimates are never altered.
type RiskManager struct {
	maxLossPct float64
}

// NewRiskManager creates a RiskManager.
//
//   - maxLossPct: the largest acceptable loss at the primary confidence
//     level as a fraction (e.g. 0.05 for 5%). Zero disables the check.
func NewRiskManager(maxLossPct float64) *RiskManager {
	return &RiskManager{maxLossPct: maxLossPct}
}

// LimitCheck is the outcome of a loss limit check.
type LimitCheck struct {
	Enabled  bool
	Limit    float64
	Observed float64 // loss as a positive fraction, zero when VaR is a gain
	Breached bool
}

// CheckVaR evaluates a return-space VaR such as -0.031.
func (rm *RiskManager) CheckVaR(v float64) LimitCheck {
	return rm.check(math.Max(0, -v))
}

// CheckTerminal evaluates a price-space terminal VaR against the base price.
func (rm *RiskManager) CheckTerminal(terminalVaR, base float64) LimitCheck {
	if base <= 0 {
		return rm.check(0)
	}
	return rm.check(math.Max(0, (base-terminalVaR)/base))
}

func (rm *RiskManager) check(loss float64) LimitCheck {
	if rm == nil || rm.maxLossPct <= 0 {
		return LimitCheck{Observed: loss}
	}
	return LimitCheck{
		Enabled:  true,
		Limit:    rm.maxLossPct,
		Observed: loss,
		Breached: loss > rm.maxLossPct,
	}
}

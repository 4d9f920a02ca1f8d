package report

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatVaR formats a return-space VaR with four decimals, e.g. "-0.0213".
func FormatVaR(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// FormatPct formats a fraction as a signed percentage, e.g. "-2.13%".
func FormatPct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// FormatLossPct formats the magnitude of a return-space loss, e.g. 2.13 for
// -0.0213. The sign is dropped because the wording says "lose".
func FormatLossPct(v float64) string {
	return fmt.Sprintf("%.2f", math.Abs(v)*100)
}

// FormatPrice formats a normalized price, or "-" for zero.
func FormatPrice(p float64) string {
	if p == 0 || math.IsNaN(p) {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatLevel formats a confidence level as "95%" or "97.5%".
func FormatLevel(c float64) string {
	pct := c * 100
	if math.Abs(pct-math.Round(pct)) < 1e-9 {
		return fmt.Sprintf("%.0f%%", pct)
	}
	return fmt.Sprintf("%g%%", math.Round(pct*100)/100)
}

// FormatTail formats the tail probability of a confidence level, e.g. "5%"
// for 0.95.
func FormatTail(c float64) string {
	return FormatLevel(1 - c)
}

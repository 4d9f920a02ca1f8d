package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"varengine/internal/config"
	"varengine/internal/gather"
	"varengine/internal/risk"
)

// Request parameter names shared by the HTTP query string, the gRPC request
// struct and the CLI flags.
const (
	ParamSymbol     = "symbol"
	ParamStart      = "start"
	ParamEnd        = "end"
	ParamLookback   = "lookback"
	ParamConfidence = "confidence"
	ParamSims       = "sims"
	ParamHorizon    = "horizon"
	ParamPaths      = "paths"
	ParamDays       = "days"
	ParamThreshold  = "threshold"
	ParamSeed       = "seed"
)

// RequestPolicy holds the default start window and the size limits enforced
// on external requests. Zero limits take the risk.DefaultMax* values.
type RequestPolicy struct {
	Lookback       string
	MaxSimulations int
	MaxHorizon     int
	MaxPaths       int
	MaxPathHorizon int
}

// PolicyFromConfig reads the request policy from the loader and risk
// sections.
func PolicyFromConfig(cfg *config.Config) RequestPolicy {
	return RequestPolicy{
		Lookback:       cfg.Loader.Lookback,
		MaxSimulations: cfg.Risk.MaxSimulations,
		MaxHorizon:     cfg.Risk.MaxHorizon,
		MaxPaths:       cfg.Risk.MaxPaths,
		MaxPathHorizon: cfg.Risk.MaxPathHorizon,
	}
}

func (p RequestPolicy) withDefaults() RequestPolicy {
	if p.MaxSimulations <= 0 {
		p.MaxSimulations = risk.DefaultMaxSimulations
	}
	if p.MaxHorizon <= 0 {
		p.MaxHorizon = risk.DefaultMaxHorizon
	}
	if p.MaxPaths <= 0 {
		p.MaxPaths = risk.DefaultMaxPaths
	}
	if p.MaxPathHorizon <= 0 {
		p.MaxPathHorizon = risk.DefaultMaxPathHorizon
	}
	return p
}

// ParseRequest builds a Request from string parameters such as url.Values.
// Confidence levels may repeat or be comma-separated and must lie in (0,1)
// unless written as a percentage with a "%" suffix. When neither start nor
// lookback is given, policy.Lookback sets the start. Every error wraps
// risk.ErrInvalidParameter.
func ParseRequest(params map[string][]string, policy RequestPolicy, now time.Time) (Request, error) {
	policy = policy.withDefaults()
	get := func(k string) string {
		if v := params[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	invalid := func(k, v string, err error) error {
		return fmt.Errorf("%w: %s=%q: %v", risk.ErrInvalidParameter, k, v, err)
	}

	var req Request
	req.Symbol = strings.ToUpper(get(ParamSymbol))
	if req.Symbol == "" {
		return req, fmt.Errorf("%w: %s is required", risk.ErrInvalidParameter, ParamSymbol)
	}

	start := get(ParamStart)
	if start == "" {
		start = get(ParamLookback)
	}
	if start == "" {
		start = policy.Lookback
	}
	if start != "" {
		t, err := gather.ParseDate(start, now)
		if err != nil {
			return req, invalid(ParamStart, start, err)
		}
		req.Start = t
	}
	if v := get(ParamEnd); v != "" {
		t, err := gather.ParseDate(v, now)
		if err != nil {
			return req, invalid(ParamEnd, v, err)
		}
		req.End = t
	}

	for _, raw := range params[ParamConfidence] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			c, err := parseConfidence(part)
			if err != nil {
				return req, invalid(ParamConfidence, part, err)
			}
			req.Confidences = append(req.Confidences, c)
		}
	}

	ints := []struct {
		key string
		max int
		dst *int
	}{
		{ParamSims, policy.MaxSimulations, &req.Simulations},
		{ParamHorizon, policy.MaxHorizon, &req.Horizon},
		{ParamPaths, policy.MaxPaths, &req.Paths},
		{ParamDays, policy.MaxPathHorizon, &req.PathHorizon},
	}
	for _, f := range ints {
		v := get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, invalid(f.key, v, err)
		}
		if n <= 0 {
			return req, invalid(f.key, v, fmt.Errorf("must be positive"))
		}
		if n > f.max {
			return req, invalid(f.key, v, fmt.Errorf("exceeds the limit of %d", f.max))
		}
		*f.dst = n
	}

	if v := get(ParamThreshold); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, invalid(ParamThreshold, v, err)
		}
		if th < 0 {
			return req, invalid(ParamThreshold, v, fmt.Errorf("must not be negative"))
		}
		req.Threshold = th
	}

	if v := get(ParamSeed); v != "" {
		s, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, invalid(ParamSeed, v, err)
		}
		req.Seed = &s
	}
	return req, nil
}

// parseConfidence reads a level in (0,1), or a percentage such as "97.5%".
func parseConfidence(s string) (float64, error) {
	pct := strings.HasSuffix(s, "%")
	c, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return 0, err
	}
	if pct {
		c /= 100
	}
	if !(c > 0 && c < 1) {
		return 0, fmt.Errorf("outside (0,1); write percentages as 95%%")
	}
	return c, nil
}

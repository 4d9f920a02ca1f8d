package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varengine/internal/domain"
	"varengine/internal/engine"
	"varengine/internal/gather"
	"varengine/internal/metrics"
	"varengine/internal/risk"
	"varengine/pkg/varengine"
)

type fakeLoader struct {
	err   error
	calls atomic.Int32
}

func (f *fakeLoader) Load(_ context.Context, symbol string, start, end time.Time) (domain.ReturnSeries, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.ReturnSeries{}, f.err
	}
	rng := rand.New(risk.NewSource(11))
	values := make([]float64, 300)
	for i := range values {
		values[i] = 0.0004 + 0.012*rng.NormFloat64()
	}
	return domain.ReturnSeries{Symbol: symbol, Source: domain.SourceYahoo, Start: start, End: end, Values: values}, nil
}

func newTestServer(t *testing.T, loader *fakeLoader) (*httptest.Server, *metrics.Registry) {
	t.Helper()
	m := metrics.New()
	eng := engine.NewEngine(loader, risk.Params{Simulations: 2000, Paths: 300, PathHorizon: 20}, nil,
		engine.NewRiskManager(0.5), m, nil)
	srv := httptest.NewServer(NewRiskServer(eng, engine.RequestPolicy{Lookback: "2y"}, m, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, m
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestCompareEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeLoader{})

	resp, body := get(t, srv.URL+"/api/compare?symbol=spy&start=2023-01-01&end=2024-12-31&seed=42&confidence=0.95,0.99")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var out varengine.CompareResponse
	require.NoError(t, json.Unmarshal(body, &out))

	assert.Equal(t, "SPY", out.Run.Symbol)
	assert.Equal(t, "yahoo", out.Run.Source)
	assert.Equal(t, "2023-01-01", out.Run.Start)
	assert.Equal(t, uint64(42), out.Run.Seed)
	assert.Equal(t, 300, out.Run.Observations)
	assert.NotEmpty(t, out.Run.RunID)
	assert.Equal(t, 2000, out.Simulations)

	require.Len(t, out.Levels, 2)
	assert.Equal(t, 0.95, out.Levels[0].Confidence)
	assert.Equal(t, 0.99, out.Levels[1].Confidence)
	for _, lvl := range out.Levels {
		assert.Less(t, lvl.Historical, 0.0)
		assert.Less(t, lvl.Parametric, 0.0)
		assert.Less(t, lvl.MonteCarlo, 0.0)
	}
	assert.Less(t, out.Levels[1].Parametric, out.Levels[0].Parametric, "99% VaR is deeper than 95%")

	assert.Contains(t, out.Recommendation.Message, "Methods ")
	assert.Equal(t, 0.95, out.Recommendation.Confidence)
	assert.Contains(t, out.Interpretation, "There's a 5% chance that SPY")
	require.NotNil(t, out.Limit)
	assert.False(t, out.Limit.Breached)

	// The seed is carried as a string on the wire.
	assert.Contains(t, string(body), `"seed":"42"`)
}

func TestCompareReproducible(t *testing.T) {
	srv, _ := newTestServer(t, &fakeLoader{})
	url := srv.URL + "/api/compare?symbol=SPY&start=2023-01-01&seed=7"

	var a, b varengine.CompareResponse
	_, body := get(t, url)
	require.NoError(t, json.Unmarshal(body, &a))
	_, body = get(t, url)
	require.NoError(t, json.Unmarshal(body, &b))

	assert.Equal(t, a.Levels, b.Levels)
	assert.NotEqual(t, a.Run.RunID, b.Run.RunID)
}

func TestSimulateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeLoader{})

	resp, body := get(t, srv.URL+"/api/simulate?symbol=^GSPC&seed=5&sample=3&days=10")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out varengine.SimulateResponse
	require.NoError(t, json.Unmarshal(body, &out))

	assert.Equal(t, 300, out.Paths)
	assert.Equal(t, 10, out.Horizon)
	assert.Equal(t, 100.0, out.BasePrice)
	require.Len(t, out.SamplePaths, 3)
	for _, p := range out.SamplePaths {
		require.Len(t, p, 11)
		assert.Equal(t, 100.0, p[0])
	}
	require.Len(t, out.Metrics, 2)
	assert.Len(t, out.Histogram.Counts, 40)
	assert.Len(t, out.Histogram.Edges, 41)
	total := 0.0
	for _, c := range out.Histogram.Counts {
		total += c
	}
	assert.Equal(t, 300.0, total)
	assert.Contains(t, out.Interpretation, "over 10 days")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		query  string
		status int
		code   string
	}{
		{"missing symbol", nil, "start=2023-01-01", http.StatusBadRequest, "invalid_parameter"},
		{"bad confidence", nil, "symbol=SPY&confidence=150", http.StatusBadRequest, "invalid_parameter"},
		{"confidence above one", nil, "symbol=SPY&confidence=1.5", http.StatusBadRequest, "invalid_parameter"},
		{"oversized simulation", nil, "symbol=SPY&paths=4294967296&days=4294967296", http.StatusBadRequest, "invalid_parameter"},
		{"bad sample", nil, "symbol=SPY&sample=x", http.StatusBadRequest, "invalid_parameter"},
		{"short history", fmt.Errorf("%w: 10 sessions", risk.ErrInsufficientData), "symbol=IPO", http.StatusUnprocessableEntity, "insufficient_data"},
		{"upstream down", fmt.Errorf("%w: yahoo: 503", gather.ErrFetch), "symbol=SPY", http.StatusBadGateway, "fetch_error"},
		{"unexpected", errors.New("disk on fire"), "symbol=SPY", http.StatusInternalServerError, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeLoader{err: tt.err})
			resp, body := get(t, srv.URL+"/api/simulate?"+tt.query)
			require.Equal(t, tt.status, resp.StatusCode, string(body))

			var er varengine.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &er))
			assert.Equal(t, tt.code, er.Code)
			assert.NotEmpty(t, er.Error)
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(fmt.Errorf("x: %w", risk.ErrDegenerateInput)))
	assert.Equal(t, http.StatusGatewayTimeout, StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusBadRequest, StatusFor(&risk.MethodError{Method: risk.Historical, Confidence: 1.2, Err: risk.ErrInvalidParameter}))
}

func TestChartEndpoints(t *testing.T) {
	loader := &fakeLoader{}
	srv, _ := newTestServer(t, loader)

	for _, path := range []string{"/api/chart/compare.png", "/api/chart/distribution.png", "/api/chart/paths.png"} {
		resp, body := get(t, srv.URL+path+"?symbol=SPY&seed=3")
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"), path)
		assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")), path)
	}

	// A repeated seeded request is served from the chart cache.
	before := loader.calls.Load()
	resp, _ := get(t, srv.URL+"/api/chart/compare.png?symbol=SPY&seed=3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, before, loader.calls.Load())

	// Unseeded requests are never cached.
	get(t, srv.URL+"/api/chart/compare.png?symbol=SPY")
	get(t, srv.URL+"/api/chart/compare.png?symbol=SPY")
	assert.Equal(t, before+2, loader.calls.Load())
}

func TestHealthMetricsAndCORS(t *testing.T) {
	srv, _ := newTestServer(t, &fakeLoader{})

	resp, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok"`)

	get(t, srv.URL+"/api/compare?symbol=SPY")
	resp, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `varengine_runs_total{operation="compare",outcome="ok"} 1`), "runs counter exported")

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/compare", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestClientAgainstServer(t *testing.T) {
	srv, _ := newTestServer(t, &fakeLoader{})
	c := varengine.NewClient(srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	seed := uint64(99)
	cmp, err := c.Compare(ctx, varengine.Query{Symbol: "QQQ", Start: "2023-01-01", Confidences: []float64{0.9, 0.99}, Seed: &seed})
	require.NoError(t, err)
	require.Len(t, cmp.Levels, 2)
	assert.Equal(t, 0.9, cmp.Levels[0].Confidence)
	assert.Equal(t, seed, cmp.Run.Seed)

	_, err = c.Simulate(ctx, varengine.Query{})
	var apiErr *varengine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "invalid_parameter", apiErr.Code)
}

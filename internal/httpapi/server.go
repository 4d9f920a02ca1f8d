package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"varengine/internal/engine"
	"varengine/internal/gather"
	"varengine/internal/metrics"
	"varengine/internal/report"
	"varengine/internal/risk"
	"varengine/pkg/varengine"
)

// Runner executes risk runs. *engine.Engine implements it.
type Runner interface {
	Compare(ctx context.Context, req engine.Request) (*engine.CompareReport, error)
	Simulate(ctx context.Context, req engine.Request) (*engine.SimulationReport, error)
}

// Compile-time interface check.
var _ Runner = (*engine.Engine)(nil)

const (
	maxSamplePaths = 100
	chartCacheTTL  = 10 * time.Minute
)

// RiskServer serves the VaR HTTP API.
type RiskServer struct {
	runner  Runner
	policy  engine.RequestPolicy
	metrics *metrics.Registry
	log     *slog.Logger
	now     func() time.Time

	// Rendered charts of seeded runs. Key: path + "?" + encoded query.
	charts *chartCache
}

// NewRiskServer creates a RiskServer. policy supplies the default start
// window and the request size limits. m may be nil.
func NewRiskServer(runner Runner, policy engine.RequestPolicy, m *metrics.Registry, log *slog.Logger) *RiskServer {
	if log == nil {
		log = slog.Default()
	}
	s := &RiskServer{
		runner:  runner,
		policy:  policy,
		metrics: m,
		log:     log.With("component", "httpapi"),
		now:     time.Now,
	}
	s.charts = newChartCache(chartCacheSize, chartCacheTTL, func() time.Time { return s.now() })
	return s
}

// Run sweeps expired charts from the cache until ctx is done.
func (s *RiskServer) Run(ctx context.Context) {
	s.charts.Run(ctx, chartCacheSweep)
}

// RegisterRoutes registers all API routes on the given mux.
func (s *RiskServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/compare", s.handleCompare)
	mux.HandleFunc("GET /api/simulate", s.handleSimulate)
	mux.HandleFunc("GET /api/chart/compare.png", s.handleCompareChart)
	mux.HandleFunc("GET /api/chart/distribution.png", s.handleDistributionChart)
	mux.HandleFunc("GET /api/chart/paths.png", s.handlePathsChart)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns an http.Handler with CORS and request logging middleware.
func (s *RiskServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *RiskServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			return
		}
		s.log.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(varengine.ErrorResponse{Error: msg, Code: code})
}

func writePNG(w http.ResponseWriter, img []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Write(img)
}

// StatusFor maps a run error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, risk.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, risk.ErrInsufficientData), errors.Is(err, risk.ErrDegenerateInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gather.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// Client went away; the status is only logged.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func (s *RiskServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "query", r.URL.RawQuery, "error", err)
	} else {
		s.log.Debug("request rejected", "path", r.URL.Path, "query", r.URL.RawQuery, "error", err)
	}
	writeError(w, status, engine.Outcome(err), err.Error())
}

func (s *RiskServer) parse(r *http.Request) (engine.Request, error) {
	return engine.ParseRequest(r.URL.Query(), s.policy, s.now())
}

// sampleCount reads the optional "sample" parameter.
func sampleCount(r *http.Request) (int, error) {
	v := r.URL.Query().Get("sample")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: sample=%q must be a non-negative integer", risk.ErrInvalidParameter, v)
	}
	return min(n, maxSamplePaths), nil
}

func (s *RiskServer) handleCompare(w http.ResponseWriter, r *http.Request) {
	req, err := s.parse(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.runner.Compare(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, CompareResponse(rep))
}

func (s *RiskServer) handleSimulate(w http.ResponseWriter, r *http.Request) {
	req, err := s.parse(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sample, err := sampleCount(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rep, err := s.runner.Simulate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, SimulateResponse(rep, sample))
}

func (s *RiskServer) handleCompareChart(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, func(req engine.Request) ([]byte, error) {
		rep, err := s.runner.Compare(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return report.ComparisonChart(rep.Symbol, rep.Comparison)
	})
}

func (s *RiskServer) handleDistributionChart(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, func(req engine.Request) ([]byte, error) {
		rep, err := s.runner.Simulate(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return report.DistributionChart(rep, report.DefaultBins)
	})
}

func (s *RiskServer) handlePathsChart(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, func(req engine.Request) ([]byte, error) {
		rep, err := s.runner.Simulate(r.Context(), req)
		if err != nil {
			return nil, err
		}
		return report.PathsChart(rep)
	})
}

// serveChart renders a chart, caching it when the request is seeded and
// therefore reproducible.
func (s *RiskServer) serveChart(w http.ResponseWriter, r *http.Request, render func(engine.Request) ([]byte, error)) {
	req, err := s.parse(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	key := r.URL.Path + "?" + r.URL.Query().Encode()
	if req.Seed != nil {
		if png, ok := s.charts.Get(key); ok {
			writePNG(w, png)
			return
		}
	}

	img, err := render(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Seed != nil {
		s.charts.Put(key, img)
	}
	writePNG(w, img)
}

func (s *RiskServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// Package varengine is a Go client for the varengine-server HTTP API.
package varengine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the varengine-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new varengine API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Query selects the symbol, window and overrides of one run. Zero fields
// keep the server defaults.
type Query struct {
	Symbol      string
	Start       string // YYYY-MM-DD or a lookback such as "2y"
	End         string
	Confidences []float64
	Simulations int
	Horizon     int
	Paths       int
	Days        int
	Threshold   float64
	Seed        *uint64
	// SamplePaths asks /api/simulate to include that many raw paths.
	SamplePaths int
}

// Values encodes q as query parameters.
func (q Query) Values() url.Values {
	v := url.Values{}
	v.Set("symbol", q.Symbol)
	if q.Start != "" {
		v.Set("start", q.Start)
	}
	if q.End != "" {
		v.Set("end", q.End)
	}
	for _, c := range q.Confidences {
		v.Add("confidence", strconv.FormatFloat(c, 'f', -1, 64))
	}
	setInt := func(k string, n int) {
		if n > 0 {
			v.Set(k, strconv.Itoa(n))
		}
	}
	setInt("sims", q.Simulations)
	setInt("horizon", q.Horizon)
	setInt("paths", q.Paths)
	setInt("days", q.Days)
	setInt("sample", q.SamplePaths)
	if q.Threshold > 0 {
		v.Set("threshold", strconv.FormatFloat(q.Threshold, 'f', -1, 64))
	}
	if q.Seed != nil {
		v.Set("seed", strconv.FormatUint(*q.Seed, 10))
	}
	return v
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("varengine: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("varengine: %d: %s", e.Status, e.Message)
}

// Compare runs the three-method VaR comparison.
func (c *Client) Compare(ctx context.Context, q Query) (*CompareResponse, error) {
	var out CompareResponse
	if err := c.getJSON(ctx, "/api/compare", q.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Simulate runs a GBM path simulation.
func (c *Client) Simulate(ctx context.Context, q Query) (*SimulateResponse, error) {
	var out SimulateResponse
	if err := c.getJSON(ctx, "/api/simulate", q.Values(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompareChart returns the comparison bar chart as PNG bytes.
func (c *Client) CompareChart(ctx context.Context, q Query) ([]byte, error) {
	return c.getBytes(ctx, "/api/chart/compare.png", q.Values())
}

// DistributionChart returns the terminal distribution histogram as PNG bytes.
func (c *Client) DistributionChart(ctx context.Context, q Query) ([]byte, error) {
	return c.getBytes(ctx, "/api/chart/distribution.png", q.Values())
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.getBytes(ctx, "/healthz", nil)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	body, err := c.getBytes(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) getBytes(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		var er ErrorResponse
		if json.Unmarshal(body, &er) == nil && er.Error != "" {
			apiErr.Code, apiErr.Message = er.Code, er.Error
		}
		return nil, apiErr
	}
	return body, nil
}

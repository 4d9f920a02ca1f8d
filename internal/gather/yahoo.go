package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"varengine/internal/domain"
	"varengine/internal/util"
)

// Compile-time interface check.
var _ Source = (*YahooSource)(nil)

// yahooChartResp is the subset of the v8 chart payload we read. Prices are
// pointers because Yahoo emits null for sessions without trades.
type yahooChartResp struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooSource downloads daily bars from the public Yahoo Finance chart API.
// It covers indices (^GSPC), FX (EURUSD=X), crypto (BTC-USD) and non-US
// listings as well as US equities.
type YahooSource struct {
	baseURLs  []string
	userAgent string
	client    *http.Client
}

// NewYahooSource creates a YahooSource. baseURL may hold several
// comma-separated hosts; they are tried in order when one fails.
func NewYahooSource(baseURL, userAgent string, client *http.Client) *YahooSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = "Mozilla/5.0 (compatible; varengine/1.0)"
	}
	var bases []string
	for _, b := range strings.Split(baseURL, ",") {
		if b = strings.TrimRight(strings.TrimSpace(b), "/"); b != "" {
			bases = append(bases, b)
		}
	}
	if len(bases) == 0 {
		bases = []string{"https://query1.finance.yahoo.com", "https://query2.finance.yahoo.com"}
	}
	return &YahooSource{baseURLs: bases, userAgent: userAgent, client: client}
}

// Name returns the source identifier.
func (s *YahooSource) Name() domain.Source { return domain.SourceYahoo }

// FetchBars fetches daily bars for symbol in [start, end]. Close is the
// adjusted close when the payload carries one.
func (s *YahooSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var errs []error
	for _, base := range s.baseURLs {
		bars, err := s.fetchFrom(ctx, base, symbol, start, end)
		if err == nil {
			return bars, nil
		}
		// A definitive answer from one host holds for all of them.
		if errors.Is(err, ErrUnknownSymbol) || util.IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (s *YahooSource) fetchFrom(ctx context.Context, base, symbol string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.Add(24*time.Hour).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", base, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, util.Permanent(err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("yahoo %s: %w", symbol, ErrUnknownSymbol)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("yahoo %s: status %d", symbol, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, util.Permanent(fmt.Errorf("yahoo %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var yc yahooChartResp
	if err := json.NewDecoder(resp.Body).Decode(&yc); err != nil {
		return nil, fmt.Errorf("yahoo %s: decoding chart: %w", symbol, err)
	}
	return parseYahooChart(symbol, &yc)
}

func parseYahooChart(symbol string, yc *yahooChartResp) ([]domain.Bar, error) {
	if e := yc.Chart.Error; e != nil {
		if strings.EqualFold(e.Code, "Not Found") {
			return nil, fmt.Errorf("yahoo %s: %s: %w", symbol, e.Description, ErrUnknownSymbol)
		}
		return nil, util.Permanent(fmt.Errorf("yahoo %s: %s: %s", symbol, e.Code, e.Description))
	}
	if len(yc.Chart.Result) == 0 || len(yc.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo %s: empty chart: %w", symbol, ErrUnknownSymbol)
	}

	res := yc.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	at := func(xs []*float64, i int) float64 {
		if i < len(xs) && xs[i] != nil {
			return *xs[i]
		}
		return 0
	}

	bars := make([]domain.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		px := at(adj, i)
		if px == 0 {
			px = at(quote.Close, i)
		}
		if px == 0 {
			continue
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: truncateDay(time.Unix(ts, 0)),
			Open:      at(quote.Open, i),
			High:      at(quote.High, i),
			Low:       at(quote.Low, i),
			Close:     px,
			Volume:    vol,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("yahoo %s: no priced sessions: %w", symbol, ErrUnknownSymbol)
	}
	return bars, nil
}

package gather

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"varengine/internal/domain"
)

// Compile-time interface check.
var _ Source = (*AlpacaSource)(nil)

// barsClient is the part of *marketdata.Client the source uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaSource downloads split and dividend adjusted daily bars for US
// equities from the Alpaca market-data API.
type AlpacaSource struct {
	client barsClient
	feed   string
}

// NewAlpacaSource creates an AlpacaSource from credentials. An empty dataURL
// uses the SDK default endpoint; an empty feed uses "iex".
func NewAlpacaSource(apiKey, apiSecret, dataURL, feed string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}
	return &AlpacaSource{client: marketdata.NewClient(opts), feed: feed}
}

// Name returns the source identifier.
func (s *AlpacaSource) Name() domain.Source { return domain.SourceAlpaca }

// FetchBars fetches daily bars for symbol in [start, end]. The SDK call is
// not context-aware, so cancellation is only observed before the request.
func (s *AlpacaSource) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// End is inclusive on our side; Alpaca treats it as an instant.
	alpacaBars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      start,
		End:        end.Add(24*time.Hour - time.Nanosecond),
		Adjustment: marketdata.All,
		Feed:       marketdata.Feed(s.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca GetBars %s: %w", symbol, err)
	}
	if len(alpacaBars) == 0 {
		return nil, fmt.Errorf("alpaca %s: %w", symbol, ErrUnknownSymbol)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	return bars, nil
}

package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"moneta/internal/config"
	"moneta/internal/domain"
	"moneta/internal/util"
)

var _ Source = (*AlpacaSource)(nil)

// alpacaRateLimit is the free-tier request budget per minute.
const alpacaRateLimit = 200

// AlpacaSource fetches daily bars from the Alpaca market-data API, batching
// all requested tickers into multi-bar calls.
type AlpacaSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaSource builds a Source backed by the Alpaca data API.
func NewAlpacaSource(cfg config.Alpaca, log *slog.Logger) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		opts.BaseURL = cfg.DataURL
	}

	return &AlpacaSource{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiter(alpacaRateLimit),
		log:     log,
	}
}

// History fetches daily bars for every ticker in one multi-bar request,
// retrying transient API failures with backoff.
func (s *AlpacaSource) History(ctx context.Context, tickers []string, start, end time.Time) (map[string][]domain.Bar, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("alpaca history: %w: no tickers requested", domain.ErrNoData)
	}

	symbols := make([]string, len(tickers))
	for i, t := range tickers {
		symbols[i] = strings.ToUpper(t)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var multiBars map[string][]marketdata.Bar
	err := util.Retry(ctx, 3, time.Second, func() error {
		var err error
		multiBars, err = s.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
			TimeFrame: marketdata.OneDay,
			Start:     start,
			End:       end,
			Feed:      "sip",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	history := make(map[string][]domain.Bar, len(multiBars))
	for symbol, alpacaBars := range multiBars {
		ticker := strings.ToUpper(symbol)
		bars := make([]domain.Bar, 0, len(alpacaBars))
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Ticker: ticker,
				Date:   util.Midnight(ab.Timestamp),
				Open:   ab.Open,
				High:   ab.High,
				Low:    ab.Low,
				Close:  ab.Close,
				Volume: int64(ab.Volume),
			})
		}
		history[ticker] = bars
	}

	s.log.Info("fetched daily bars",
		"tickers", len(symbols), "hit", len(history),
		"start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
	return history, nil
}

package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"strategylab/internal/domain"
	"strategylab/internal/util"
)

// Compile-time interface check.
var _ Fetcher = (*AlpacaFetcher)(nil)

// AlpacaFetcher fetches bars from the Alpaca market-data API. Symbols that
// contain a slash ("BTC/USD") are requested from the crypto endpoint, all
// others from the stock endpoint.
type AlpacaFetcher struct {
	client      *marketdata.Client
	feed        string
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger
}

// AlpacaOptions configures an AlpacaFetcher.
type AlpacaOptions struct {
	APIKey      string
	APISecret   string
	DataURL     string
	Feed        string
	MaxAttempts int
	RetryDelay  time.Duration
}

// NewAlpacaFetcher creates an AlpacaFetcher. limiter is this source's request
// budget and is shared by every call made through the fetcher.
func NewAlpacaFetcher(opts AlpacaOptions, limiter *util.RateLimiter) *AlpacaFetcher {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	return &AlpacaFetcher{
		client:      marketdata.NewClient(co),
		feed:        opts.Feed,
		limiter:     limiter,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		log:         slog.Default().With("fetcher", "alpaca"),
	}
}

// Name returns "alpaca".
func (f *AlpacaFetcher) Name() string { return "alpaca" }

// FetchOHLCV fetches bars, waiting on the rate budget before every attempt.
func (f *AlpacaFetcher) FetchOHLCV(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	tf, err := timeFrame(interval)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	err = util.Retry(ctx, f.maxAttempts, f.retryDelay, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		if strings.Contains(symbol, "/") {
			bars, ferr = f.crypto(symbol, tf, start, end)
		} else {
			bars, ferr = f.stock(symbol, tf, start, end)
		}
		if ferr != nil {
			f.log.Debug("fetch attempt failed", "symbol", symbol, "error", ferr)
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s: %w", symbol, interval, err)
	}
	return bars, nil
}

func (f *AlpacaFetcher) stock(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
		Feed:      f.feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     float64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

func (f *AlpacaFetcher) crypto(symbol string, tf marketdata.TimeFrame, start, end time.Time) ([]domain.Bar, error) {
	raw, err := f.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("GetCryptoBars: %w", err)
	}
	bars := make([]domain.Bar, 0, len(raw))
	for _, cb := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  cb.Timestamp.UTC(),
			Open:       cb.Open,
			High:       cb.High,
			Low:        cb.Low,
			Close:      cb.Close,
			Volume:     cb.Volume,
			TradeCount: int64(cb.TradeCount),
			VWAP:       cb.VWAP,
		})
	}
	return bars, nil
}

// timeFrame maps an interval string onto an Alpaca TimeFrame.
func timeFrame(interval string) (marketdata.TimeFrame, error) {
	d, err := util.ParseInterval(interval)
	if err != nil {
		return marketdata.TimeFrame{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	switch {
	case d%(7*24*time.Hour) == 0 && d/(7*24*time.Hour) == 1:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day), nil
	case d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour), nil
	default:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min), nil
	}
}

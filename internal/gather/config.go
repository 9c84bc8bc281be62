package gather

import (
	"fmt"
	"log/slog"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/store"
	"strategylab/internal/util"
)

// archiveSource is the BarStore source name Alpaca bars are archived under.
const archiveSource = "alpaca"

// NewFetcher builds the configured bar source:
//
//	alpaca   live Alpaca market data, archived to Parquet when cache_bars is set
//	parquet  the local Parquet archive only
func NewFetcher(cfg *config.Config) (Fetcher, error) {
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	switch cfg.Gather.Source {
	case "alpaca":
		f := NewAlpacaFetcher(AlpacaOptions{
			APIKey:      cfg.Alpaca.APIKey,
			APISecret:   cfg.Alpaca.APISecret,
			DataURL:     cfg.Alpaca.DataURL,
			Feed:        cfg.Alpaca.Feed,
			MaxAttempts: cfg.Gather.MaxAttempts,
			RetryDelay:  cfg.Gather.RetryDelay,
		}, util.NewRateLimiter("alpaca", cfg.Gather.RateLimitPerMin))
		if cfg.Gather.CacheBars {
			return NewCachingFetcher(f, bars), nil
		}
		return f, nil
	case "parquet", "":
		return NewStoreFetcher(bars, archiveSource), nil
	}
	return nil, fmt.Errorf("%w: unknown gather source %q", domain.ErrInvalidConfiguration, cfg.Gather.Source)
}

// NewLoaderFromConfig builds a Loader over the configured fetcher.
func NewLoaderFromConfig(cfg *config.Config, log *slog.Logger) (*Loader, error) {
	f, err := NewFetcher(cfg)
	if err != nil {
		return nil, err
	}
	return NewLoader(f, cfg.Gather.MaxWorkers, cfg.Gather.FetchTimeout, log), nil
}

package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/store"
	"strategylab/internal/util"
)

// Compile-time interface checks.
var _ Fetcher = (*StoreFetcher)(nil)
var _ Fetcher = (*CachingFetcher)(nil)

// StoreFetcher serves bars previously archived under source in a BarStore.
type StoreFetcher struct {
	store  store.BarStore
	source string
}

// NewStoreFetcher creates a StoreFetcher reading source's archive.
func NewStoreFetcher(s store.BarStore, source string) *StoreFetcher {
	return &StoreFetcher{store: s, source: source}
}

// Name returns "store:<source>".
func (f *StoreFetcher) Name() string { return "store:" + f.source }

// FetchOHLCV reads bars from the archive. An empty result is reported as
// domain.ErrDataUnavailable.
func (f *StoreFetcher) FetchOHLCV(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := f.store.ReadBars(ctx, f.source, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s %s not archived", domain.ErrDataUnavailable, symbol, interval)
	}
	return bars, nil
}

// CachingFetcher serves from the archive when it covers the requested range
// and otherwise fetches upstream and archives the result.
type CachingFetcher struct {
	upstream Fetcher
	store    store.BarStore
	log      *slog.Logger
}

// NewCachingFetcher wraps upstream with a read-through archive.
func NewCachingFetcher(upstream Fetcher, s store.BarStore) *CachingFetcher {
	return &CachingFetcher{
		upstream: upstream,
		store:    s,
		log:      slog.Default().With("fetcher", "cache", "upstream", upstream.Name()),
	}
}

// Name returns the upstream name.
func (f *CachingFetcher) Name() string { return f.upstream.Name() }

// FetchOHLCV returns archived bars when they span [start, end] to within one
// bar on either side, otherwise fetches from upstream.
func (f *CachingFetcher) FetchOHLCV(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	step, err := util.ParseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}

	cached, err := f.store.ReadBars(ctx, f.upstream.Name(), symbol, interval, start, end)
	if err != nil {
		f.log.Warn("archive read failed", "symbol", symbol, "error", err)
	} else if covers(cached, start, end, step) {
		f.log.Debug("archive hit", "symbol", symbol, "bars", len(cached))
		return cached, nil
	}

	bars, err := f.upstream.FetchOHLCV(ctx, symbol, interval, start, end)
	if err != nil {
		return nil, err
	}
	if err := f.store.WriteBars(ctx, f.upstream.Name(), interval, bars); err != nil {
		f.log.Warn("archive write failed", "symbol", symbol, "error", err)
	}
	return bars, nil
}

func covers(bars []domain.Bar, start, end time.Time, step time.Duration) bool {
	if len(bars) == 0 {
		return false
	}
	first, last := bars[0].Timestamp, bars[len(bars)-1].Timestamp
	return !first.After(start.Add(step)) && !last.Before(end.Add(-step))
}

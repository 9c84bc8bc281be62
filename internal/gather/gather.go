// Package gather loads historical bars for a run from an upstream data source
// and normalizes them for the simulation driver.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"strategylab/internal/domain"
	"strategylab/internal/util"
)

// Fetcher retrieves OHLCV bars for one symbol. Implementations return bars in
// ascending timestamp order; gaps are tolerated.
type Fetcher interface {
	// Name returns the data source identifier.
	Name() string

	// FetchOHLCV returns bars for symbol at interval within [start, end].
	FetchOHLCV(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the range, inclusive.
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Loader fetches several symbols concurrently with a bounded worker count and
// a per-symbol timeout.
type Loader struct {
	fetcher    Fetcher
	maxWorkers int
	timeout    time.Duration
	log        *slog.Logger
}

// NewLoader creates a Loader over f. maxWorkers < 1 means one worker; a zero
// timeout disables the per-symbol deadline.
func NewLoader(f Fetcher, maxWorkers int, timeout time.Duration, log *slog.Logger) *Loader {
	if log == nil {
		log = util.Discard()
	}
	return &Loader{
		fetcher:    f,
		maxWorkers: max(maxWorkers, 1),
		timeout:    timeout,
		log:        log.With("component", "loader", "source", f.Name()),
	}
}

// Source returns the underlying fetcher's name.
func (l *Loader) Source() string { return l.fetcher.Name() }

// Load fetches every symbol. A symbol that fails or yields no bars is left
// out and reported in warnings; Load fails with domain.ErrBacktest only when
// no symbol yields data or ctx is cancelled.
func (l *Loader) Load(ctx context.Context, symbols []string, interval string, rng DateRange) (map[string][]domain.Bar, []string, error) {
	var (
		mu       sync.Mutex
		series   = make(map[string][]domain.Bar, len(symbols))
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.maxWorkers)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			bars, err := l.loadOne(gctx, sym, interval, rng)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				l.log.Warn("symbol skipped", "symbol", sym, "error", err)
				warnings = append(warnings, fmt.Sprintf("%s: %v", sym, err))
				return nil
			}
			series[sym] = bars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("loading bars: %w", err)
	}

	sort.Strings(warnings)
	if len(series) == 0 {
		return nil, warnings, fmt.Errorf("%w: no data for any of %s", domain.ErrBacktest, strings.Join(symbols, ","))
	}
	l.log.Info("bars loaded", "symbols", len(series), "skipped", len(warnings), "interval", interval)
	return series, warnings, nil
}

func (l *Loader) loadOne(ctx context.Context, symbol, interval string, rng DateRange) ([]domain.Bar, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	raw, err := l.fetcher.FetchOHLCV(ctx, symbol, interval, rng.Start, rng.End)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}

	bars := Normalize(symbol, raw, rng)
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no bars in range", domain.ErrDataUnavailable)
	}
	return bars, nil
}

// Normalize sorts bars ascending, keeps the last bar per timestamp, drops bars
// outside rng or with non-positive prices, and stamps symbol on each bar.
func Normalize(symbol string, bars []domain.Bar, rng DateRange) []domain.Bar {
	out := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !rng.Contains(b.Timestamp) || b.Close <= 0 || b.High < b.Low {
			continue
		}
		b.Symbol = symbol
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Timestamp.Equal(b.Timestamp) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

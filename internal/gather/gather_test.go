package gather

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategylab/internal/config"
	"strategylab/internal/domain"
	"strategylab/internal/store"
)

var t0 = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func hourly(symbol string, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return bars
}

type fakeFetcher struct {
	calls atomic.Int32
	bars  map[string][]domain.Bar
	fail  map[string]error
	delay time.Duration
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FetchOHLCV(ctx context.Context, symbol, _ string, _, _ time.Time) ([]domain.Bar, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[symbol]; err != nil {
		return nil, err
	}
	return append([]domain.Bar(nil), f.bars[symbol]...), nil
}

func TestNormalize(t *testing.T) {
	bars := hourly("x", 5)
	dup := bars[2]
	dup.Close = 999
	raw := []domain.Bar{bars[4], bars[1], dup, bars[0], bars[2], bars[3]}
	raw = append(raw, domain.Bar{Timestamp: t0.Add(-time.Hour), Close: 50, High: 51, Low: 49})
	raw = append(raw, domain.Bar{Timestamp: t0.Add(90 * time.Minute), Close: 0})

	got := Normalize("BTC", raw, DateRange{Start: t0, End: t0.Add(3 * time.Hour)})
	require.Len(t, got, 4)
	for i, b := range got {
		assert.Equal(t, "BTC", b.Symbol)
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), b.Timestamp)
	}
	assert.Equal(t, 102.0, got[2].Close, "last bar per timestamp wins")
}

func TestLoaderSkipsFailedSymbols(t *testing.T) {
	f := &fakeFetcher{
		bars: map[string][]domain.Bar{"AAA": hourly("AAA", 10), "EMPTY": nil},
		fail: map[string]error{"BAD": errors.New("503 from upstream")},
	}
	l := NewLoader(f, 2, time.Second, nil)

	series, warnings, err := l.Load(context.Background(), []string{"AAA", "BAD", "EMPTY"}, "1h",
		DateRange{Start: t0, End: t0.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, series, 1)
	assert.Len(t, series["AAA"], 10)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "BAD")
	assert.Contains(t, warnings[1], "EMPTY")
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestLoaderNoData(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"A": errors.New("down"), "B": errors.New("down")}}
	_, warnings, err := NewLoader(f, 4, 0, nil).Load(context.Background(), []string{"A", "B"}, "1h",
		DateRange{Start: t0, End: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrBacktest)
	assert.Len(t, warnings, 2)
}

func TestLoaderTimeout(t *testing.T) {
	f := &fakeFetcher{bars: map[string][]domain.Bar{"SLOW": hourly("SLOW", 3)}, delay: time.Second}
	_, warnings, err := NewLoader(f, 1, 20*time.Millisecond, nil).Load(context.Background(), []string{"SLOW"}, "1h",
		DateRange{Start: t0, End: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrBacktest)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "deadline")
}

func TestLoaderCancelled(t *testing.T) {
	f := &fakeFetcher{bars: map[string][]domain.Bar{"A": hourly("A", 3)}, delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewLoader(f, 1, 0, nil).Load(ctx, []string{"A"}, "1h", DateRange{Start: t0, End: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachingFetcher(t *testing.T) {
	ctx := context.Background()
	ps := store.NewParquetStore(t.TempDir())
	up := &fakeFetcher{bars: map[string][]domain.Bar{"ETH": hourly("ETH", 24)}}
	cf := NewCachingFetcher(up, ps)

	start, end := t0, t0.Add(23*time.Hour)
	first, err := cf.FetchOHLCV(ctx, "ETH", "1h", start, end)
	require.NoError(t, err)
	require.Len(t, first, 24)

	second, err := cf.FetchOHLCV(ctx, "ETH", "1h", start, end)
	require.NoError(t, err)
	assert.Len(t, second, 24)
	assert.EqualValues(t, 1, up.calls.Load(), "second read served from the archive")

	sf := NewStoreFetcher(ps, "fake")
	archived, err := sf.FetchOHLCV(ctx, "ETH", "1h", start, end)
	require.NoError(t, err)
	assert.Len(t, archived, 24)

	_, err = sf.FetchOHLCV(ctx, "SOL", "1h", start, end)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestTimeFrame(t *testing.T) {
	for interval, want := range map[string]string{"15m": "15Min", "1h": "1Hour", "4h": "4Hour", "1d": "1Day", "1w": "1Week"} {
		tf, err := timeFrame(interval)
		require.NoError(t, err, interval)
		assert.Equal(t, want, tf.String(), interval)
	}
	_, err := timeFrame("soon")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNewFetcherFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()

	cfg.Gather.Source = "parquet"
	f, err := NewFetcher(cfg)
	require.NoError(t, err)
	assert.Equal(t, "store:alpaca", f.Name())

	cfg.Gather.Source = "alpaca"
	cfg.Gather.CacheBars = true
	f, err = NewFetcher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &CachingFetcher{}, f)
	assert.Equal(t, "alpaca", f.Name())

	cfg.Gather.CacheBars = false
	f, err = NewFetcher(cfg)
	require.NoError(t, err)
	assert.IsType(t, &AlpacaFetcher{}, f)

	cfg.Gather.Source = "carrier-pigeon"
	_, err = NewFetcher(cfg)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestLoaderFromArchive(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.DataDir = t.TempDir()
	ctx := context.Background()

	archive := store.NewParquetStore(cfg.Storage.DataDir)
	require.NoError(t, archive.WriteBars(ctx, "alpaca", "1h", hourly("SPY", 24)))

	l, err := NewLoaderFromConfig(cfg, nil)
	require.NoError(t, err)
	series, warnings, err := l.Load(ctx, []string{"SPY", "QQQ"}, "1h", DateRange{Start: t0, End: t0.Add(23 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, series["SPY"], 24)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "QQQ")
}

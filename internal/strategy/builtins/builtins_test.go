package builtins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

func series(closes []float64) []domain.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "BTCUSDT",
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
		}
	}
	return bars
}

func TestRegister(t *testing.T) {
	r := strategy.NewRegistry()
	Register(r)
	assert.Equal(t, []string{RSIName, SuperTrendName}, r.List())

	_, err := r.New(SuperTrendName, map[string]float64{"period": 1})
	assert.Error(t, err)
}

func TestSuperTrendFlip(t *testing.T) {
	var closes []float64
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+float64(i))
	}
	peak := closes[len(closes)-1]
	for i := 1; i <= 30; i++ {
		closes = append(closes, peak-3*float64(i))
	}
	bars := series(closes)

	st, err := NewSuperTrend(nil)
	require.NoError(t, err)
	ctx := context.Background()

	sig, err := st.Signal(ctx, "BTCUSDT", bars[:60])
	require.NoError(t, err)
	assert.True(t, sig.Action.IsBuy(), "steady rise should be an up trend, got %s", sig.Action)

	flips := 0
	for i := 61; i <= len(bars); i++ {
		sig, err := st.Signal(ctx, "BTCUSDT", bars[:i])
		require.NoError(t, err)
		if sig.Action == domain.ActionStrongSell {
			flips++
			assert.Equal(t, 0.85, sig.Confidence)
		}
		assert.NotEqual(t, domain.ActionStrongBuy, sig.Action, "no upward flip expected while falling (bar %d)", i)
	}
	assert.Equal(t, 1, flips, "trend should flip down exactly once")
}

func TestSuperTrendShortWindow(t *testing.T) {
	st, err := NewSuperTrend(map[string]float64{"period": 10})
	require.NoError(t, err)
	sig, err := st.Signal(context.Background(), "X", series([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)
}

func TestRSI(t *testing.T) {
	r, err := NewRSI(nil)
	require.NoError(t, err)
	ctx := context.Background()

	var falling, rising, flatSeries []float64
	for i := 0; i < 40; i++ {
		falling = append(falling, 200-float64(i))
		rising = append(rising, 100+float64(i))
		flatSeries = append(flatSeries, 100)
	}

	sig, err := r.Signal(ctx, "X", series(falling))
	require.NoError(t, err)
	assert.True(t, sig.Action.IsBuy(), "oversold should buy, got %s", sig.Action)

	sig, err = r.Signal(ctx, "X", series(rising))
	require.NoError(t, err)
	assert.True(t, sig.Action.IsSell(), "overbought should sell, got %s", sig.Action)

	sig, err = r.Signal(ctx, "X", series(flatSeries))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)

	_, err = NewRSI(map[string]float64{"oversold": 80, "overbought": 70})
	assert.Error(t, err)
}

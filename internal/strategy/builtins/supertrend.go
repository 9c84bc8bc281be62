package builtins

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// SuperTrendName is the registry name of the SuperTrend provider.
const SuperTrendName = "supertrend"

// Compile-time interface check.
var _ strategy.Provider = (*SuperTrend)(nil)

// SuperTrend emits strong signals when the ATR-banded trend flips on the
// current bar and weaker continuation signals otherwise.
//
// Parameters: period (10), multiplier (3.0), lookback (200),
// flip_confidence (0.85), trend_confidence (0.5).
type SuperTrend struct {
	period          int
	multiplier      float64
	lookback        int
	flipConfidence  float64
	trendConfidence float64
}

// NewSuperTrend builds a SuperTrend provider from params.
func NewSuperTrend(params map[string]float64) (*SuperTrend, error) {
	st := &SuperTrend{
		period:          int(strategy.Param(params, "period", 10)),
		multiplier:      strategy.Param(params, "multiplier", 3.0),
		lookback:        int(strategy.Param(params, "lookback", 200)),
		flipConfidence:  strategy.Param(params, "flip_confidence", 0.85),
		trendConfidence: strategy.Param(params, "trend_confidence", 0.5),
	}
	if st.period < 2 {
		return nil, fmt.Errorf("period must be at least 2, got %d", st.period)
	}
	if st.multiplier <= 0 {
		return nil, fmt.Errorf("multiplier must be positive, got %v", st.multiplier)
	}
	if st.lookback < st.period+2 {
		st.lookback = st.period + 2
	}
	return st, nil
}

// Name returns "supertrend".
func (s *SuperTrend) Name() string {
	return SuperTrendName
}

// Signal evaluates the trend direction over the trailing lookback bars.
func (s *SuperTrend) Signal(_ context.Context, _ string, window []domain.Bar) (domain.Signal, error) {
	bars := tail(window, s.lookback)
	dirs, atr := s.directions(bars)
	n := len(dirs)
	if n < 2 || dirs[n-2] == 0 {
		return domain.Hold, nil
	}

	last := bars[len(bars)-1]
	sig := domain.Signal{
		Confidence: s.trendConfidence,
		RiskLevel:  riskFromVolatility(atr[len(atr)-1] / last.Close),
	}

	up := dirs[n-1] > 0
	flipped := dirs[n-1] != dirs[n-2]
	switch {
	case flipped && up:
		sig.Action, sig.Confidence = domain.ActionStrongBuy, s.flipConfidence
	case flipped:
		sig.Action, sig.Confidence = domain.ActionStrongSell, s.flipConfidence
	case up:
		sig.Action = domain.ActionBuy
	default:
		sig.Action = domain.ActionSell
	}
	return sig, nil
}

// directions returns +1/-1 per bar for up/down trend, 0 where the ATR is not
// yet defined, plus the ATR series.
func (s *SuperTrend) directions(bars []domain.Bar) ([]int, []float64) {
	if len(bars) < s.period+2 {
		return nil, nil
	}
	high, low, closes := columns(bars)
	atr := indicators.ATR(high, low, closes, s.period)
	if len(atr) != len(bars) {
		return nil, nil
	}

	dirs := make([]int, len(bars))
	var upper, lower float64
	started := false
	for i := range bars {
		if atr[i] <= 0 {
			continue
		}
		hl2 := (high[i] + low[i]) / 2
		ub := hl2 + s.multiplier*atr[i]
		lb := hl2 - s.multiplier*atr[i]

		if !started {
			upper, lower = ub, lb
			dirs[i] = 1
			started = true
			continue
		}

		if ub < upper || closes[i-1] > upper {
			upper = ub
		}
		if lb > lower || closes[i-1] < lower {
			lower = lb
		}

		dirs[i] = dirs[i-1]
		if dirs[i-1] > 0 && closes[i] <= lower {
			dirs[i] = -1
		} else if dirs[i-1] < 0 && closes[i] >= upper {
			dirs[i] = 1
		}
	}
	return dirs, atr
}

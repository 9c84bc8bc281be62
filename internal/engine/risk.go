package engine

import (
	"sort"

	"strategylab/internal/domain"
	"strategylab/internal/ledger"
)

const (
	maxStopFraction      = 0.05 // a stop never risks more than 5% of entry
	fallbackStopFraction = 0.03
	targetStepFraction   = 0.03 // target distance per unit of risk/reward
)

// RiskManager derives stop-loss and take-profit levels from pivot-based
// support and resistance, falling back to fixed percentages when the window
// is too short or has no usable pivot.
type RiskManager struct {
	pivotWindow int
	lookback    int
	minBars     int
	riskReward  float64
}

// NewRiskManager creates a RiskManager from run risk settings.
func NewRiskManager(rs domain.RiskSettings) *RiskManager {
	return &RiskManager{
		pivotWindow: rs.PivotWindow,
		lookback:    rs.Lookback,
		minBars:     rs.MinBars,
		riskReward:  rs.RiskRewardRatio,
	}
}

// FindPivots returns the deduplicated, ascending pivot-low and pivot-high
// prices of bars. Bar i is a pivot low when its low is <= every low in
// [i-w, i+w]; pivot highs are symmetric. Bars without a full neighbourhood on
// both sides are never pivots.
func FindPivots(bars []domain.Bar, w int) (lows, highs []float64) {
	if w < 1 {
		w = 1
	}
	seenLow := make(map[float64]bool)
	seenHigh := make(map[float64]bool)

	for i := w; i < len(bars)-w; i++ {
		isLow, isHigh := true, true
		for j := i - w; j <= i+w; j++ {
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if !isLow && !isHigh {
				break
			}
		}
		if isLow && !seenLow[bars[i].Low] {
			seenLow[bars[i].Low] = true
			lows = append(lows, bars[i].Low)
		}
		if isHigh && !seenHigh[bars[i].High] {
			seenHigh[bars[i].High] = true
			highs = append(highs, bars[i].High)
		}
	}
	sort.Float64s(lows)
	sort.Float64s(highs)
	return lows, highs
}

// Levels computes stop-loss and take-profit for a position on side entered at
// entry, using the trailing lookback of window.
func (rm *RiskManager) Levels(window []domain.Bar, entry float64, side domain.PositionSide) ledger.Levels {
	var supports, resistances []float64
	if len(window) >= rm.minBars {
		bars := window
		if rm.lookback > 0 && len(bars) > rm.lookback {
			bars = bars[len(bars)-rm.lookback:]
		}
		supports, resistances = FindPivots(bars, rm.pivotWindow)
	}

	return ledger.Levels{
		StopLoss:    rm.stopLoss(entry, side, supports, resistances),
		TakeProfit:  rm.takeProfit(entry, side, supports, resistances),
		Supports:    supports,
		Resistances: resistances,
	}
}

// stopLoss picks the nearest protective level beyond entry, bounded at
// maxStopFraction away.
func (rm *RiskManager) stopLoss(entry float64, side domain.PositionSide, supports, resistances []float64) float64 {
	if side == domain.PositionSideLong {
		below := filter(supports, func(s float64) bool { return s < entry })
		if len(below) == 0 {
			return entry * (1 - fallbackStopFraction)
		}
		return max(below[len(below)-1], entry*(1-maxStopFraction))
	}

	above := filter(resistances, func(r float64) bool { return r > entry })
	if len(above) == 0 {
		return entry * (1 + fallbackStopFraction)
	}
	return min(above[0], entry*(1+maxStopFraction))
}

// takeProfit prefers the second-nearest opposing level and never sets a
// target closer than targetStepFraction × risk/reward.
func (rm *RiskManager) takeProfit(entry float64, side domain.PositionSide, supports, resistances []float64) float64 {
	step := targetStepFraction * rm.riskReward

	if side == domain.PositionSideLong {
		floor := entry * (1 + step)
		above := filter(resistances, func(r float64) bool { return r > entry })
		switch len(above) {
		case 0:
			return floor
		case 1:
			return max(above[0], floor)
		default:
			return max(above[1], floor)
		}
	}

	ceiling := entry * (1 - step)
	below := filter(supports, func(s float64) bool { return s < entry })
	n := len(below)
	switch n {
	case 0:
		return ceiling
	case 1:
		return min(below[0], ceiling)
	default:
		return min(below[n-2], ceiling)
	}
}

// Trail recomputes the stop using price as the reference and reports the new
// stop when it is tighter than current: higher for longs, lower for shorts.
func (rm *RiskManager) Trail(window []domain.Bar, price float64, side domain.PositionSide, current float64) (float64, bool) {
	if len(window) < rm.minBars {
		return current, false
	}
	next := rm.Levels(window, price, side).StopLoss
	if side == domain.PositionSideLong && next > current {
		return next, true
	}
	if side == domain.PositionSideShort && next < current {
		return next, true
	}
	return current, false
}

func filter(sorted []float64, keep func(float64) bool) []float64 {
	var out []float64
	for _, v := range sorted {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

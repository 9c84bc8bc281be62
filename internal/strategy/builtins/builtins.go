// Package builtins provides the signal providers that ship with strategylab.
package builtins

import (
	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// Register adds every built-in provider to r.
func Register(r *strategy.Registry) {
	r.Register(SuperTrendName, func(p map[string]float64) (strategy.Provider, error) {
		return NewSuperTrend(p)
	})
	r.Register(RSIName, func(p map[string]float64) (strategy.Provider, error) {
		return NewRSI(p)
	})
}

// riskFromVolatility grades the ratio of average true range to price.
func riskFromVolatility(atrPct float64) domain.RiskLevel {
	switch {
	case atrPct < 0.005:
		return domain.RiskVeryLow
	case atrPct < 0.01:
		return domain.RiskLow
	case atrPct < 0.02:
		return domain.RiskMedium
	case atrPct < 0.04:
		return domain.RiskHigh
	default:
		return domain.RiskVeryHigh
	}
}

func tail(window []domain.Bar, n int) []domain.Bar {
	if n > 0 && len(window) > n {
		return window[len(window)-n:]
	}
	return window
}

func columns(bars []domain.Bar) (high, low, closes []float64) {
	high = make([]float64, len(bars))
	low = make([]float64, len(bars))
	closes = make([]float64, len(bars))
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
	}
	return high, low, closes
}

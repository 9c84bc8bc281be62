package builtins

import (
	"context"
	"fmt"
	"math"

	"github.com/thrasher-corp/gct-ta/indicators"

	"strategylab/internal/domain"
	"strategylab/internal/strategy"
)

// RSIName is the registry name of the RSI provider.
const RSIName = "rsi"

// Compile-time interface check.
var _ strategy.Provider = (*RSI)(nil)

// RSI is a mean-reversion provider: buy when oversold, sell when overbought.
// It also serves as the default secondary model in blended runs.
//
// Parameters: rsi_period (14), oversold (30), overbought (70).
type RSI struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSI builds an RSI provider from params.
func NewRSI(params map[string]float64) (*RSI, error) {
	r := &RSI{
		period:     int(strategy.Param(params, "rsi_period", 14)),
		oversold:   strategy.Param(params, "oversold", 30),
		overbought: strategy.Param(params, "overbought", 70),
	}
	if r.period < 2 {
		return nil, fmt.Errorf("rsi_period must be at least 2, got %d", r.period)
	}
	if r.oversold >= r.overbought {
		return nil, fmt.Errorf("oversold %v must be below overbought %v", r.oversold, r.overbought)
	}
	return r, nil
}

// Name returns "rsi".
func (r *RSI) Name() string {
	return RSIName
}

// Signal computes the RSI of the trailing closes.
func (r *RSI) Signal(_ context.Context, _ string, window []domain.Bar) (domain.Signal, error) {
	bars := tail(window, 4*r.period+1)
	if len(bars) <= r.period+1 {
		return domain.Hold, nil
	}
	_, _, closes := columns(bars)
	if flat(closes) {
		return domain.Signal{Action: domain.ActionHold, Confidence: 0.5, RiskLevel: domain.RiskMedium}, nil
	}
	values := indicators.RSI(closes, r.period)
	if len(values) != len(closes) {
		return domain.Hold, nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) {
		return domain.Hold, nil
	}

	switch {
	case v <= r.oversold:
		return domain.Signal{
			Action:     actionFor(r.oversold-v, domain.ActionBuy, domain.ActionStrongBuy),
			Confidence: math.Min(0.5+(r.oversold-v)/r.oversold, 1),
			RiskLevel:  domain.RiskMedium,
		}, nil
	case v >= r.overbought:
		return domain.Signal{
			Action:     actionFor(v-r.overbought, domain.ActionSell, domain.ActionStrongSell),
			Confidence: math.Min(0.5+(v-r.overbought)/(100-r.overbought), 1),
			RiskLevel:  domain.RiskMedium,
		}, nil
	default:
		return domain.Signal{Action: domain.ActionHold, Confidence: 0.5, RiskLevel: domain.RiskMedium}, nil
	}
}

func actionFor(excess float64, normal, strong domain.Action) domain.Action {
	if excess >= 10 {
		return strong
	}
	return normal
}

// flat reports whether every value equals the first; the RSI is undefined
// there.
func flat(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

package engine

import (
	"math"

	"strategylab/internal/domain"
)

// baseRisk maps a risk level to the fraction of balance put at risk.
var baseRisk = map[domain.RiskLevel]float64{
	domain.RiskVeryLow:  0.01,
	domain.RiskLow:      0.02,
	domain.RiskMedium:   0.03,
	domain.RiskHigh:     0.05,
	domain.RiskVeryHigh: 0.08,
}

// PositionSizer converts balance, confidence and risk level into a quantity.
type PositionSizer struct {
	// MaxPositionPct caps the notional of one position as a fraction of
	// balance.
	MaxPositionPct float64
}

// Size returns the order quantity for sig at price, or 0 when no order should
// be placed.
func (s PositionSizer) Size(balance, price float64, sig domain.Signal) float64 {
	if balance <= 0 || price <= 0 || sig.Confidence <= 0 {
		return 0
	}
	if !sig.Action.IsBuy() && !sig.Action.IsSell() {
		return 0
	}

	base, ok := baseRisk[sig.RiskLevel]
	if !ok {
		base = baseRisk[domain.RiskMedium]
	}

	riskAmount := balance * base * math.Min(sig.Confidence*1.5, 1.0)
	qty := riskAmount / price

	if s.MaxPositionPct > 0 {
		if ceiling := balance * s.MaxPositionPct / price; qty > ceiling {
			qty = ceiling
		}
	}
	return qty
}

package strategy

import (
	"context"
	"math"

	"strategylab/internal/domain"
)

// conflictFloor is the confidence below which a conflicting blend is demoted
// to hold.
const conflictFloor = 0.6

// Blend combines a primary trend signal with a secondary model's signal.
//
// The primary confidence is scaled by (1 - weight). When the secondary agrees
// in direction its weighted confidence is added (capped at 1). A neutral
// secondary leaves the scaled primary as is. A conflicting secondary halves
// the scaled primary and demotes it to hold below conflictFloor. The risk
// level always comes from the primary.
type Blend struct {
	primary   Provider
	secondary Provider
	weight    float64
}

var _ Provider = (*Blend)(nil)

// NewBlend returns a Blend giving weight to secondary.
func NewBlend(primary, secondary Provider, weight float64) *Blend {
	return &Blend{primary: primary, secondary: secondary, weight: weight}
}

// Name returns "<primary>+<secondary>".
func (b *Blend) Name() string {
	return b.primary.Name() + "+" + b.secondary.Name()
}

// Signal evaluates both providers and combines them. A failing secondary is
// treated as absent.
func (b *Blend) Signal(ctx context.Context, symbol string, window []domain.Bar) (domain.Signal, error) {
	base, err := b.primary.Signal(ctx, symbol, window)
	if err != nil {
		return domain.Hold, err
	}

	out := base
	out.Confidence = base.Confidence * (1 - b.weight)

	sec, err := b.secondary.Signal(ctx, symbol, window)
	if err != nil {
		return out, nil
	}

	switch {
	case sameDirection(base.Action, sec.Action):
		out.Confidence = math.Min(base.Confidence*(1-b.weight)+sec.Confidence*b.weight, 1)
	case isNeutral(sec.Action) || isNeutral(base.Action):
	default:
		out.Confidence = base.Confidence * (1 - b.weight) * 0.5
		if out.Confidence < conflictFloor {
			out.Action = domain.ActionHold
		}
	}
	return out, nil
}

func isNeutral(a domain.Action) bool {
	return !a.IsBuy() && !a.IsSell()
}

func sameDirection(a, b domain.Action) bool {
	return (a.IsBuy() && b.IsBuy()) || (a.IsSell() && b.IsSell()) || (isNeutral(a) && isNeutral(b))
}

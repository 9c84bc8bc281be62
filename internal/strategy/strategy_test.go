package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategylab/internal/domain"
)

// fixed returns a provider that always emits sig.
func fixed(name string, sig domain.Signal) Provider {
	return namedFunc{name: name, fn: func(context.Context, string, []domain.Bar) (domain.Signal, error) { return sig, nil }}
}

type namedFunc struct {
	name string
	fn   ProviderFunc
}

func (n namedFunc) Name() string { return n.name }
func (n namedFunc) Signal(ctx context.Context, s string, w []domain.Bar) (domain.Signal, error) {
	return n.fn(ctx, s, w)
}

func factoryFor(p Provider) Factory {
	return func(map[string]float64) (Provider, error) { return p, nil }
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", factoryFor(fixed("test-strategy", domain.Hold)))

	f, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	p, err := f(nil)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if p.Name() != "test-strategy" {
		t.Errorf("Name() = %q, want %q", p.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Error("Get returned true for unregistered strategy")
	}
	if _, err := r.New("nonexistent", nil); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("New(nonexistent) = %v, want ErrInvalidConfiguration", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", factoryFor(fixed("beta", domain.Hold)))
	r.Register("alpha", factoryFor(fixed("alpha", domain.Hold)))

	names := r.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func(map[string]float64) (Provider, error) { return nil, errors.New("bad period") })
	_, err := r.New("broken", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestRegistryBuildBlend(t *testing.T) {
	r := NewRegistry()
	r.Register("trend", factoryFor(fixed("trend", domain.Signal{Action: domain.ActionBuy, Confidence: 0.8, RiskLevel: domain.RiskHigh})))
	r.Register("ml", factoryFor(fixed("ml", domain.Signal{Action: domain.ActionStrongBuy, Confidence: 0.9})))

	p, err := r.Build(domain.StrategyParams{Type: "trend"})
	require.NoError(t, err)
	assert.Equal(t, "trend", p.Name())

	p, err = r.Build(domain.StrategyParams{Type: "trend", UseML: true, MLModel: "ml", MLWeight: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "trend+ml", p.Name())

	sig, err := p.Signal(context.Background(), "BTC", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Equal(t, domain.RiskHigh, sig.RiskLevel)
	assert.InDelta(t, 0.8*0.7+0.9*0.3, sig.Confidence, 1e-12)
}

func TestBlend(t *testing.T) {
	buy := domain.Signal{Action: domain.ActionStrongBuy, Confidence: 1.0, RiskLevel: domain.RiskMedium}
	cases := []struct {
		name       string
		secondary  Provider
		wantAction domain.Action
		wantConf   float64
	}{
		{"agree capped", fixed("ml", domain.Signal{Action: domain.ActionBuy, Confidence: 1.0}), domain.ActionStrongBuy, 1.0},
		{"neutral", fixed("ml", domain.Signal{Action: domain.ActionHold, Confidence: 0.9}), domain.ActionStrongBuy, 0.7},
		{"conflict demoted", fixed("ml", domain.Signal{Action: domain.ActionSell, Confidence: 0.9}), domain.ActionHold, 0.35},
		{"secondary error", namedFunc{name: "ml", fn: func(context.Context, string, []domain.Bar) (domain.Signal, error) {
			return domain.Signal{}, errors.New("model offline")
		}}, domain.ActionStrongBuy, 0.7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBlend(fixed("trend", buy), tc.secondary, 0.3)
			sig, err := b.Signal(context.Background(), "BTC", nil)
			require.NoError(t, err)
			assert.Equal(t, tc.wantAction, sig.Action)
			assert.InDelta(t, tc.wantConf, sig.Confidence, 1e-12)
		})
	}
}

func TestParam(t *testing.T) {
	p := map[string]float64{"period": 7}
	assert.Equal(t, 7.0, Param(p, "period", 10))
	assert.Equal(t, 3.0, Param(p, "multiplier", 3))
	assert.Equal(t, 3.0, Param(nil, "multiplier", 3))
}

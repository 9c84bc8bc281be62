// Package strategy defines the signal provider boundary consumed by the
// simulation driver and a Registry of named provider factories.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strategylab/internal/domain"
)

// Provider turns a rolling window of bars into a typed signal. The window is
// ordered oldest first and its last element is the current bar. Providers must
// treat the window as read-only and must not retain it.
type Provider interface {
	// Name returns the identifier of this provider.
	Name() string

	// Signal evaluates the window for symbol.
	Signal(ctx context.Context, symbol string, window []domain.Bar) (domain.Signal, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, symbol string, window []domain.Bar) (domain.Signal, error)

// Name returns "func".
func (f ProviderFunc) Name() string { return "func" }

// Signal calls f.
func (f ProviderFunc) Signal(ctx context.Context, symbol string, window []domain.Bar) (domain.Signal, error) {
	return f(ctx, symbol, window)
}

// Factory builds a provider from free-form numeric parameters.
type Factory func(params map[string]float64) (Provider, error)

// Registry holds named provider factories for lookup and enumeration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the factory was found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// List returns a sorted slice of all registered names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the provider registered under name.
func (r *Registry) New(name string, params map[string]float64) (Provider, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidConfiguration, name)
	}
	p, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("%w: building %s: %v", domain.ErrInvalidConfiguration, name, err)
	}
	return p, nil
}

// Build resolves run strategy parameters into a provider, wrapping the
// primary provider in a Blend when a secondary model is enabled.
func (r *Registry) Build(sp domain.StrategyParams) (Provider, error) {
	primary, err := r.New(sp.Type, sp.Params)
	if err != nil {
		return nil, err
	}
	if !sp.UseML {
		return primary, nil
	}
	secondary, err := r.New(sp.MLModel, sp.Params)
	if err != nil {
		return nil, err
	}
	return NewBlend(primary, secondary, sp.MLWeight), nil
}

// Param returns params[key] or def when absent.
func Param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// StrategyParams configures the signal provider for a run.
type StrategyParams struct {
	Type     string             `json:"type" yaml:"type"`
	UseML    bool               `json:"use_ml" yaml:"use_ml"`
	MLModel  string             `json:"ml_model,omitempty" yaml:"ml_model"`
	MLWeight float64            `json:"ml_weight" yaml:"ml_weight"`
	Params   map[string]float64 `json:"params,omitempty" yaml:"params"`
}

// Clone returns a copy with its own Params map.
func (sp StrategyParams) Clone() StrategyParams {
	out := sp
	out.Params = make(map[string]float64, len(sp.Params))
	for k, v := range sp.Params {
		out.Params[k] = v
	}
	return out
}

// RiskSettings tunes the risk manager, the sizer and the driver.
type RiskSettings struct {
	RiskRewardRatio float64 `json:"risk_reward_ratio" yaml:"risk_reward_ratio"`
	PivotWindow     int     `json:"pivot_window" yaml:"pivot_window"`
	Lookback        int     `json:"lookback" yaml:"lookback"`
	MinBars         int     `json:"min_bars" yaml:"min_bars"`
	MaxPositionPct  float64 `json:"max_position_pct" yaml:"max_position_pct"`
	EntryThreshold  float64 `json:"entry_threshold" yaml:"entry_threshold"`
	WarmupBars      int     `json:"warmup_bars" yaml:"warmup_bars"`
}

// DefaultRiskSettings returns the stock risk parameters.
func DefaultRiskSettings() RiskSettings {
	return RiskSettings{
		RiskRewardRatio: 2.0,
		PivotWindow:     10,
		Lookback:        100,
		MinBars:         20,
		MaxPositionPct:  0.25,
		EntryThreshold:  0.6,
		WarmupBars:      50,
	}
}

// RunConfig is the immutable configuration of one simulation run.
type RunConfig struct {
	Symbols        []string       `json:"symbols" yaml:"symbols"`
	Start          time.Time      `json:"start" yaml:"start"`
	End            time.Time      `json:"end" yaml:"end"`
	Interval       string         `json:"interval" yaml:"interval"`
	InitialBalance float64        `json:"initial_balance" yaml:"initial_balance"`
	CommissionRate float64        `json:"commission_rate" yaml:"commission_rate"`
	SlippageRate   float64        `json:"slippage_rate" yaml:"slippage_rate"`
	Strategy       StrategyParams `json:"strategy" yaml:"strategy"`
	Risk           RiskSettings   `json:"risk" yaml:"risk"`
}

// WithDefaults fills zero-valued optional fields.
func (c RunConfig) WithDefaults() RunConfig {
	if c.Interval == "" {
		c.Interval = "1h"
	}
	if c.Strategy.Type == "" {
		c.Strategy.Type = "supertrend"
	}
	if c.Strategy.UseML && c.Strategy.MLWeight == 0 {
		c.Strategy.MLWeight = 0.3
	}
	if c.Strategy.UseML && c.Strategy.MLModel == "" {
		c.Strategy.MLModel = "rsi"
	}

	d := DefaultRiskSettings()
	if c.Risk.RiskRewardRatio == 0 {
		c.Risk.RiskRewardRatio = d.RiskRewardRatio
	}
	if c.Risk.PivotWindow == 0 {
		c.Risk.PivotWindow = d.PivotWindow
	}
	if c.Risk.Lookback == 0 {
		c.Risk.Lookback = d.Lookback
	}
	if c.Risk.MinBars == 0 {
		c.Risk.MinBars = d.MinBars
	}
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = d.MaxPositionPct
	}
	if c.Risk.EntryThreshold == 0 {
		c.Risk.EntryThreshold = d.EntryThreshold
	}
	if c.Risk.WarmupBars == 0 {
		c.Risk.WarmupBars = d.WarmupBars
	}

	syms := make([]string, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		syms = append(syms, strings.ToUpper(strings.TrimSpace(s)))
	}
	c.Symbols = syms
	c.Strategy = c.Strategy.Clone()
	return c
}

// Validate reports configuration errors wrapped in ErrInvalidConfiguration.
func (c RunConfig) Validate() error {
	switch {
	case len(c.Symbols) == 0:
		return fmt.Errorf("%w: empty symbol list", ErrInvalidConfiguration)
	case c.Start.IsZero() || c.End.IsZero():
		return fmt.Errorf("%w: start and end are required", ErrInvalidConfiguration)
	case !c.End.After(c.Start):
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidConfiguration,
			c.End.Format(time.RFC3339), c.Start.Format(time.RFC3339))
	case c.InitialBalance <= 0:
		return fmt.Errorf("%w: initial balance must be positive, got %v", ErrInvalidConfiguration, c.InitialBalance)
	case c.CommissionRate < 0 || c.CommissionRate >= 1:
		return fmt.Errorf("%w: commission rate %v out of range", ErrInvalidConfiguration, c.CommissionRate)
	case c.SlippageRate < 0 || c.SlippageRate >= 1:
		return fmt.Errorf("%w: slippage rate %v out of range", ErrInvalidConfiguration, c.SlippageRate)
	case c.Strategy.MLWeight < 0 || c.Strategy.MLWeight > 1:
		return fmt.Errorf("%w: ml weight %v out of range", ErrInvalidConfiguration, c.Strategy.MLWeight)
	case c.Risk.MaxPositionPct < 0 || c.Risk.MaxPositionPct > 1:
		return fmt.Errorf("%w: max position pct %v out of range", ErrInvalidConfiguration, c.Risk.MaxPositionPct)
	case c.Risk.PivotWindow < 0 || c.Risk.WarmupBars < 0 || c.Risk.Lookback < 0:
		return fmt.Errorf("%w: negative window", ErrInvalidConfiguration)
	}

	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("%w: blank symbol", ErrInvalidConfiguration)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidConfiguration, s)
		}
		seen[s] = true
	}
	return nil
}

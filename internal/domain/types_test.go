package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	bar := Bar{}
	if bar.Symbol != "" {
		t.Error("expected empty Symbol for zero-value Bar")
	}
	if !bar.Timestamp.IsZero() {
		t.Error("expected zero Timestamp for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 {
		t.Error("expected zero OHLC values for zero-value Bar")
	}

	order := Order{}
	if order.ID != "" || order.Side != "" || order.Type != "" || order.Status != "" {
		t.Error("expected empty identifiers for zero-value Order")
	}
	if order.Qty != 0 || order.FilledQty != 0 || order.FilledAvgPrice != 0 {
		t.Error("expected zero Qty/FilledQty/FilledAvgPrice for zero-value Order")
	}

	if OrderSideBuy != "buy" || OrderSideSell != "sell" {
		t.Errorf("order sides = %q/%q", OrderSideBuy, OrderSideSell)
	}
	if ExitBacktestEnd != "backtest_end" {
		t.Errorf("ExitBacktestEnd = %q, want %q", ExitBacktestEnd, "backtest_end")
	}
}

func TestSides(t *testing.T) {
	if PositionSideLong.OpenSide() != OrderSideBuy || PositionSideLong.CloseSide() != OrderSideSell {
		t.Error("long side mapping wrong")
	}
	if PositionSideShort.OpenSide() != OrderSideSell || PositionSideShort.CloseSide() != OrderSideBuy {
		t.Error("short side mapping wrong")
	}
	if !ActionStrongBuy.IsBuy() || ActionHold.IsBuy() || !ActionSell.IsSell() || ActionWait.IsSell() {
		t.Error("action predicates wrong")
	}
}

func TestPositionGrossPnL(t *testing.T) {
	long := Position{Side: PositionSideLong, Qty: 2, EntryPrice: 100}
	if got := long.GrossPnL(110); got != 20 {
		t.Errorf("long GrossPnL = %v, want 20", got)
	}
	short := Position{Side: PositionSideShort, Qty: 2, EntryPrice: 100}
	if got := short.GrossPnL(110); got != -20 {
		t.Errorf("short GrossPnL = %v, want -20", got)
	}
}

func TestRunConfigValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := RunConfig{
		Symbols:        []string{"btcusdt"},
		Start:          start,
		End:            start.AddDate(0, 1, 0),
		InitialBalance: 10000,
		CommissionRate: 0.0004,
		SlippageRate:   0.0001,
	}.WithDefaults()

	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on valid config: %v", err)
	}
	if valid.Symbols[0] != "BTCUSDT" {
		t.Errorf("symbol not normalised: %q", valid.Symbols[0])
	}
	if valid.Risk.WarmupBars != 50 || valid.Risk.PivotWindow != 10 || valid.Risk.RiskRewardRatio != 2.0 {
		t.Errorf("risk defaults not applied: %+v", valid.Risk)
	}

	cases := map[string]func(c *RunConfig){
		"inverted range": func(c *RunConfig) { c.End = c.Start.Add(-time.Hour) },
		"zero balance":   func(c *RunConfig) { c.InitialBalance = 0 },
		"no symbols":     func(c *RunConfig) { c.Symbols = nil },
		"duplicate":      func(c *RunConfig) { c.Symbols = []string{"A", "A"} },
		"ml weight":      func(c *RunConfig) { c.Strategy.MLWeight = 1.5 },
	}
	for name, mutate := range cases {
		c := valid
		c.Symbols = append([]string(nil), valid.Symbols...)
		mutate(&c)
		err := c.Validate()
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Errorf("%s: Validate() = %v, want ErrInvalidConfiguration", name, err)
		}
	}
}

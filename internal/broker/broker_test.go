package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategylab/internal/domain"
	"strategylab/internal/ledger"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func TestSimulatorBrokerName(t *testing.T) {
	b := NewSimulatorBroker(ledger.New(1000), 0, 0)
	if got := b.Name(); got != "simulator" {
		t.Errorf("SimulatorBroker.Name() = %q, want %q", got, "simulator")
	}
}

func TestSlippageAndCommission(t *testing.T) {
	l := ledger.New(10000)
	b := NewSimulatorBroker(l, 0.001, 0.01)
	ctx := context.Background()

	f, err := b.Submit(ctx, Intent{Symbol: "BTC", Side: domain.OrderSideBuy, Qty: 2, Price: 100, Time: t0})
	require.NoError(t, err)
	require.Len(t, f.Orders, 1)

	o := f.Orders[0]
	assert.InDelta(t, 101, o.FilledAvgPrice, 1e-9, "buy fills above the reference")
	assert.InDelta(t, 2*101*0.001, o.Commission, 1e-12)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.InDelta(t, 10000-0.202, l.Balance(), 1e-9)

	assert.InDelta(t, 99, b.FillPrice(domain.OrderSideSell, 100), 1e-9, "sell fills below the reference")
}

func TestOffsetThenOpen(t *testing.T) {
	l := ledger.New(10000)
	b := NewSimulatorBroker(l, 0, 0)
	ctx := context.Background()

	_, err := b.Submit(ctx, Intent{Symbol: "ETH", Side: domain.OrderSideSell, Qty: 1, Price: 200, Time: t0})
	require.NoError(t, err)

	// Buying 3 against a 1-unit short closes it, then opens a 2-unit long.
	f, err := b.Submit(ctx, Intent{
		Symbol: "ETH", Side: domain.OrderSideBuy, Qty: 3, Price: 190, Time: t0.Add(time.Hour),
		Reason: domain.ExitSignalChange,
		Levels: ledger.Levels{StopLoss: 180, TakeProfit: 210},
	})
	require.NoError(t, err)
	require.Len(t, f.Orders, 2)
	assert.InDelta(t, 1, f.Orders[0].FilledQty, 1e-12)
	assert.InDelta(t, 2, f.Orders[1].FilledQty, 1e-12)

	require.NotNil(t, f.Closed)
	assert.Equal(t, domain.PositionSideShort, f.Closed.Side)
	assert.Equal(t, domain.ExitSignalChange, f.Closed.Reason)
	assert.InDelta(t, 10, f.Closed.PnL, 1e-9)

	pos, ok := l.Position("ETH")
	require.True(t, ok)
	assert.Equal(t, domain.PositionSideLong, pos.Side)
	assert.InDelta(t, 2, pos.Qty, 1e-12)
	assert.Equal(t, 180.0, pos.StopLoss)

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.Positions)
	assert.InDelta(t, 10010, acct.Balance, 1e-9)
}

func TestPartialOffset(t *testing.T) {
	l := ledger.New(10000)
	b := NewSimulatorBroker(l, 0, 0)
	ctx := context.Background()

	_, err := b.Submit(ctx, Intent{Symbol: "SOL", Side: domain.OrderSideBuy, Qty: 4, Price: 10, Time: t0})
	require.NoError(t, err)

	f, err := b.Submit(ctx, Intent{Symbol: "SOL", Side: domain.OrderSideSell, Qty: 1, Price: 12, Time: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Nil(t, f.Closed)
	require.Len(t, f.Orders, 1)

	positions, err := b.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 3, positions[0].Qty, 1e-12)
}

func TestCloseFlat(t *testing.T) {
	l := ledger.New(1000)
	b := NewSimulatorBroker(l, 0.0004, 0.0001)
	ctx := context.Background()

	trade, err := b.Close(ctx, Intent{Symbol: "BTC", Price: 100, Time: t0})
	require.NoError(t, err)
	assert.Nil(t, trade)

	_, err = b.Submit(ctx, Intent{Symbol: "BTC", Side: domain.OrderSideBuy, Qty: 1, Price: 100, Time: t0})
	require.NoError(t, err)
	trade, err = b.Close(ctx, Intent{Symbol: "BTC", Price: 100, Time: t0.Add(time.Hour), Reason: domain.ExitBacktestEnd})
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, domain.ExitBacktestEnd, trade.Reason)
	assert.Less(t, trade.PnL, 0.0, "round trip at the same reference loses slippage and commission")
	require.NoError(t, l.CheckConservation())
}

func TestSubmitRejectsBadInput(t *testing.T) {
	b := NewSimulatorBroker(ledger.New(1000), 0, 0)
	_, err := b.Submit(context.Background(), Intent{Symbol: "BTC", Side: domain.OrderSideBuy, Qty: 0, Price: 100})
	assert.Error(t, err)
	_, err = b.Submit(context.Background(), Intent{Symbol: "BTC", Side: domain.OrderSideBuy, Qty: 1, Price: 0})
	assert.Error(t, err)
}

package export

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"strategylab/internal/domain"
)

// TradeRecord is the Parquet schema for closed trades.
type TradeRecord struct {
	ID            string  `parquet:"id"`
	Symbol        string  `parquet:"symbol"`
	Side          string  `parquet:"side"`
	EntryTime     int64   `parquet:"entry_time,timestamp(millisecond)"`
	ExitTime      int64   `parquet:"exit_time,timestamp(millisecond)"`
	EntryPrice    float64 `parquet:"entry_price"`
	ExitPrice     float64 `parquet:"exit_price"`
	Qty           float64 `parquet:"qty"`
	PnL           float64 `parquet:"pnl"`
	PnLPercent    float64 `parquet:"pnl_percent"`
	Commission    float64 `parquet:"commission"`
	DurationHours float64 `parquet:"duration_hours"`
	Reason        string  `parquet:"reason"`
}

// EquityRecord is the Parquet schema for equity snapshots.
type EquityRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Equity    float64 `parquet:"equity"`
}

func tradeRecord(t domain.Trade) TradeRecord {
	return TradeRecord{
		ID:            t.ID,
		Symbol:        t.Symbol,
		Side:          string(t.Side),
		EntryTime:     t.EntryTime.UnixMilli(),
		ExitTime:      t.ExitTime.UnixMilli(),
		EntryPrice:    t.EntryPrice,
		ExitPrice:     t.ExitPrice,
		Qty:           t.Qty,
		PnL:           t.PnL,
		PnLPercent:    t.PnLPercent,
		Commission:    t.Commission,
		DurationHours: t.DurationHours,
		Reason:        string(t.Reason),
	}
}

// Trade converts a record back to a domain trade.
func (r TradeRecord) Trade() domain.Trade {
	return domain.Trade{
		ID:            r.ID,
		Symbol:        r.Symbol,
		Side:          domain.PositionSide(r.Side),
		EntryTime:     time.UnixMilli(r.EntryTime).UTC(),
		ExitTime:      time.UnixMilli(r.ExitTime).UTC(),
		EntryPrice:    r.EntryPrice,
		ExitPrice:     r.ExitPrice,
		Qty:           r.Qty,
		PnL:           r.PnL,
		PnLPercent:    r.PnLPercent,
		Commission:    r.Commission,
		DurationHours: r.DurationHours,
		Reason:        domain.ExitReason(r.Reason),
	}
}

// WriteParquet writes <name>_trades.parquet and <name>_equity.parquet into dir
// and returns their paths.
func WriteParquet(dir, name string, trades []domain.Trade, curve []domain.EquityPoint) ([]string, error) {
	tr := make([]TradeRecord, len(trades))
	for i, t := range trades {
		tr[i] = tradeRecord(t)
	}
	eq := make([]EquityRecord, len(curve))
	for i, pt := range curve {
		eq[i] = EquityRecord{Timestamp: pt.Timestamp.UnixMilli(), Equity: pt.Equity}
	}

	tp := filepath.Join(dir, name+"_trades.parquet")
	if err := parquet.WriteFile(tp, tr); err != nil {
		return nil, fmt.Errorf("writing %s: %w", tp, err)
	}
	ep := filepath.Join(dir, name+"_equity.parquet")
	if err := parquet.WriteFile(ep, eq); err != nil {
		return nil, fmt.Errorf("writing %s: %w", ep, err)
	}
	return []string{tp, ep}, nil
}

// ReadTradesParquet loads trades written by WriteParquet.
func ReadTradesParquet(path string) ([]domain.Trade, error) {
	rows, err := parquet.ReadFile[TradeRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]domain.Trade, len(rows))
	for i, r := range rows {
		out[i] = r.Trade()
	}
	return out, nil
}

// ReadEquityParquet loads an equity curve written by WriteParquet.
func ReadEquityParquet(path string) ([]domain.EquityPoint, error) {
	rows, err := parquet.ReadFile[EquityRecord](path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make([]domain.EquityPoint, len(rows))
	for i, r := range rows {
		out[i] = domain.EquityPoint{Timestamp: time.UnixMilli(r.Timestamp).UTC(), Equity: r.Equity}
	}
	return out, nil
}

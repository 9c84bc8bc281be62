package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/stats"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("alpaca", "1h", "btc/usd", 2024)
	want := filepath.Join("/data", "alpaca", "1h", "BTC-USD", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "BTCUSD",
			Timestamp:  time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
			Open:       42000, High: 42300, Low: 41900, Close: 42250,
			Volume:     12.5, TradeCount: 800, VWAP: 42100,
		},
		{
			Symbol:     "BTCUSD",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       41800, High: 42050, Low: 41700, Close: 42000,
			Volume:     9.75, TradeCount: 640, VWAP: 41900,
		},
		{
			Symbol:    "BTCUSD",
			Timestamp: time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC),
			Open:      41500, High: 41850, Low: 41400, Close: 41800,
		},
	}
	if err := ps.WriteBars(ctx, "alpaca", "1h", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "alpaca", "BTCUSD", "1h", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2 (spanning years, bounded by end)", len(got))
	}
	if got[0].Close != 41800 || got[1].Close != 42000 {
		t.Errorf("closes = %v, %v; want ascending 41800, 42000", got[0].Close, got[1].Close)
	}
	if got[1].Volume != 9.75 {
		t.Errorf("fractional volume lost: %v", got[1].Volume)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first := []domain.Bar{{Symbol: "ETHUSD", Timestamp: ts, Open: 3400, High: 3450, Low: 3390, Close: 3420}}
	if err := ps.WriteBars(ctx, "alpaca", "1d", first); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same timestamp replaces; a new one merges.
	second := []domain.Bar{
		{Symbol: "ETHUSD", Timestamp: ts, Open: 3400, High: 3460, Low: 3390, Close: 3440},
		{Symbol: "ETHUSD", Timestamp: ts.AddDate(0, 0, 1), Open: 3440, High: 3500, Low: 3430, Close: 3490},
	}
	if err := ps.WriteBars(ctx, "alpaca", "1d", second); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "alpaca", "ETHUSD", "1d", ts, ts.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 3440 {
		t.Errorf("replaced bar Close = %v, want 3440", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	ts := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Symbol: "SOLUSD", Timestamp: ts, Close: 100},
		{Symbol: "ADAUSD", Timestamp: ts, Close: 0.5},
	}
	if err := ps.WriteBars(ctx, "alpaca", "4h", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "alpaca", "4h")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "ADAUSD" || symbols[1] != "SOLUSD" {
		t.Errorf("ListSymbols = %v, want [ADAUSD SOLUSD]", symbols)
	}

	none, err := ps.ListSymbols(ctx, "alpaca", "1m")
	if err != nil || len(none) != 0 {
		t.Errorf("ListSymbols on missing dir = %v, %v", none, err)
	}
}

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	entry := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	run := &RunRecord{
		ID:         "run-1",
		Kind:       "single",
		Status:     "success",
		Symbols:    []string{"BTCUSDT"},
		CreatedAt:  entry.Add(-time.Hour),
		FinishedAt: entry.Add(time.Hour),
		Config: domain.RunConfig{
			Symbols: []string{"BTCUSDT"}, Start: entry, End: entry.AddDate(0, 1, 0),
			Interval: "1h", InitialBalance: 10000,
		},
		Metrics: &stats.Metrics{TotalTrades: 1, SharpeRatio: 1.25},
		Trades: []domain.Trade{{
			ID: "t1", Symbol: "BTCUSDT", Side: domain.PositionSideShort,
			EntryPrice: 100, ExitPrice: 90, Qty: 2, PnL: 19.5, PnLPercent: 9.75,
			EntryTime: entry, ExitTime: entry.Add(90 * time.Minute), DurationHours: 1.5,
			Commission: 0.5, Reason: domain.ExitTakeProfit,
		}},
		EquityCurve: []domain.EquityPoint{{Timestamp: entry, Equity: 10000}, {Timestamp: entry.Add(time.Hour), Equity: 10019.5}},
		Payload:     json.RawMessage(`{"note":"x"}`),
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	// Saving again replaces rather than duplicating children.
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun (again): %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got.Trades) != 1 || len(got.EquityCurve) != 2 {
		t.Fatalf("children = %d trades, %d equity; want 1, 2", len(got.Trades), len(got.EquityCurve))
	}
	tr := got.Trades[0]
	if tr.Side != domain.PositionSideShort || tr.Reason != domain.ExitTakeProfit || !tr.ExitTime.Equal(run.Trades[0].ExitTime) {
		t.Errorf("trade round trip mismatch: %+v", tr)
	}
	if got.Metrics == nil || got.Metrics.SharpeRatio != 1.25 {
		t.Errorf("metrics = %+v", got.Metrics)
	}
	if got.Config.Interval != "1h" || !got.Config.Start.Equal(entry) {
		t.Errorf("config = %+v", got.Config)
	}
	if string(got.Payload) != `{"note":"x"}` {
		t.Errorf("payload = %s", got.Payload)
	}
}

func TestSQLiteStoreListAndDelete(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := &RunRecord{ID: id, Kind: "single", Status: "success", Symbols: []string{"X"},
			CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("ListRuns = %v, want newest first [c b]", runs)
	}

	if err := s.DeleteRun(ctx, "b"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if _, err := s.GetRun(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRun(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteRun = %v, want ErrNotFound", err)
	}
}

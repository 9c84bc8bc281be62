// Package export writes run results to JSON, CSV and Parquet files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"strategylab/internal/domain"
)

// Format names an export file format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// pricePlaces is the number of decimals written for prices and amounts.
const pricePlaces = 8

var tradeHeader = []string{
	"id", "symbol", "side", "entry_time", "exit_time", "entry_price", "exit_price",
	"qty", "pnl", "pnl_percent", "commission", "duration_hours", "reason",
}

var equityHeader = []string{"timestamp", "equity"}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

// WriteTradesCSV writes one row per trade with a header row.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		row := []string{
			t.ID,
			t.Symbol,
			string(t.Side),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			amount(t.EntryPrice),
			amount(t.ExitPrice),
			amount(t.Qty),
			amount(t.PnL),
			decimal.NewFromFloat(t.PnLPercent).StringFixed(4),
			amount(t.Commission),
			decimal.NewFromFloat(t.DurationHours).StringFixed(2),
			string(t.Reason),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes the equity curve with a header row.
func WriteEquityCSV(w io.Writer, curve []domain.EquityPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equityHeader); err != nil {
		return err
	}
	for _, pt := range curve {
		if err := cw.Write([]string{pt.Timestamp.UTC().Format(time.RFC3339), amount(pt.Equity)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// amount renders v rounded to pricePlaces without trailing zeros.
func amount(v float64) string {
	return decimal.NewFromFloat(v).Round(pricePlaces).String()
}

// WriteAll exports result into dir under name in every requested format:
// <name>.json for the full result, <name>_trades.<ext> and <name>_equity.<ext>
// for the tabular formats. It returns the written paths.
func WriteAll(dir, name string, result any, trades []domain.Trade, curve []domain.EquityPoint, formats ...Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export dir: %w", err)
	}
	var out []string
	for _, f := range formats {
		switch f {
		case FormatJSON:
			path := filepath.Join(dir, name+".json")
			if err := writeFile(path, func(w io.Writer) error { return WriteJSON(w, result) }); err != nil {
				return out, err
			}
			out = append(out, path)
		case FormatCSV:
			tp := filepath.Join(dir, name+"_trades.csv")
			if err := writeFile(tp, func(w io.Writer) error { return WriteTradesCSV(w, trades) }); err != nil {
				return out, err
			}
			ep := filepath.Join(dir, name+"_equity.csv")
			if err := writeFile(ep, func(w io.Writer) error { return WriteEquityCSV(w, curve) }); err != nil {
				return out, err
			}
			out = append(out, tp, ep)
		case FormatParquet:
			paths, err := WriteParquet(dir, name, trades, curve)
			if err != nil {
				return out, err
			}
			out = append(out, paths...)
		default:
			return out, fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidConfiguration, f)
		}
	}
	return out, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

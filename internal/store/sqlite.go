package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"strategylab/internal/domain"
	"strategylab/internal/stats"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

// RunRecord is one persisted run. Payload holds the kind-specific result
// document (optimization table, comparison rankings, report) as JSON.
type RunRecord struct {
	ID          string               `json:"id"`
	Kind        string               `json:"kind"`
	Status      string               `json:"status"`
	Error       string               `json:"error,omitempty"`
	Symbols     []string             `json:"symbols"`
	CreatedAt   time.Time            `json:"created_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Config      domain.RunConfig     `json:"config"`
	Metrics     *stats.Metrics       `json:"metrics,omitempty"`
	Trades      []domain.Trade       `json:"trades,omitempty"`
	EquityCurve []domain.EquityPoint `json:"equity_curve,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		symbols     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		finished_at INTEGER NOT NULL DEFAULT 0,
		config      TEXT NOT NULL,
		metrics     TEXT NOT NULL DEFAULT '',
		payload     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS run_trades (
		run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		id             TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		side           TEXT NOT NULL,
		entry_price    REAL NOT NULL,
		exit_price     REAL NOT NULL,
		qty            REAL NOT NULL,
		pnl            REAL NOT NULL,
		pnl_percent    REAL NOT NULL,
		entry_time     INTEGER NOT NULL,
		exit_time      INTEGER NOT NULL,
		duration_hours REAL NOT NULL,
		commission     REAL NOT NULL,
		reason         TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS run_equity (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq    INTEGER NOT NULL,
		ts     INTEGER NOT NULL,
		equity REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the API and finishing jobs.
	db.SetMaxOpenConns(1)

	for _, stmt := range append([]string{`PRAGMA foreign_keys = ON`}, migrations...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts or replaces run in a single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	var metrics []byte
	if run.Metrics != nil {
		if metrics, err = json.Marshal(run.Metrics); err != nil {
			return fmt.Errorf("encoding metrics: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, kind, status, error, symbols, created_at, finished_at, config, metrics, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Status, run.Error, strings.Join(run.Symbols, ","),
		run.CreatedAt.UnixNano(), unixNano(run.FinishedAt), string(cfg), string(metrics), string(run.Payload),
	); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	for _, table := range []string{"run_trades", "run_equity"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, run.ID); err != nil {
			return fmt.Errorf("clearing %s for %s: %w", table, run.ID, err)
		}
	}

	if len(run.Trades) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_trades (run_id, seq, id, symbol, side, entry_price, exit_price, qty, pnl, pnl_percent,
			 entry_time, exit_time, duration_hours, commission, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, t := range run.Trades {
			if _, err := stmt.ExecContext(ctx, run.ID, i, t.ID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice,
				t.Qty, t.PnL, t.PnLPercent, t.EntryTime.UnixNano(), t.ExitTime.UnixNano(), t.DurationHours,
				t.Commission, string(t.Reason)); err != nil {
				return fmt.Errorf("saving trade %d of %s: %w", i, run.ID, err)
			}
		}
	}

	if len(run.EquityCurve) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_equity (run_id, seq, ts, equity) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, p := range run.EquityCurve {
			if _, err := stmt.ExecContext(ctx, run.ID, i, p.Timestamp.UnixNano(), p.Equity); err != nil {
				return fmt.Errorf("saving equity %d of %s: %w", i, run.ID, err)
			}
		}
	}

	return tx.Commit()
}

const runColumns = `id, kind, status, error, symbols, created_at, finished_at, config, metrics, payload`

// GetRun retrieves a run by ID, or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if run.Trades, err = s.trades(ctx, id); err != nil {
		return nil, err
	}
	if run.EquityCurve, err = s.equity(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		run.Payload = nil
		out = append(out, *run)
	}
	return out, rows.Err()
}

// DeleteRun removes a run together with its trades and equity curve.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"run_trades", "run_equity"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("deleting %s of %s: %w", table, id, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		run                 RunRecord
		symbols             string
		created, finished   int64
		cfg, metrics, extra string
	)
	if err := row.Scan(&run.ID, &run.Kind, &run.Status, &run.Error, &symbols, &created, &finished,
		&cfg, &metrics, &extra); err != nil {
		return nil, err
	}
	if symbols != "" {
		run.Symbols = strings.Split(symbols, ",")
	}
	run.CreatedAt = time.Unix(0, created).UTC()
	if finished != 0 {
		run.FinishedAt = time.Unix(0, finished).UTC()
	}
	if err := json.Unmarshal([]byte(cfg), &run.Config); err != nil {
		return nil, fmt.Errorf("decoding config of %s: %w", run.ID, err)
	}
	if metrics != "" {
		run.Metrics = &stats.Metrics{}
		if err := json.Unmarshal([]byte(metrics), run.Metrics); err != nil {
			return nil, fmt.Errorf("decoding metrics of %s: %w", run.ID, err)
		}
	}
	if extra != "" {
		run.Payload = json.RawMessage(extra)
	}
	return &run, nil
}

func (s *SQLiteStore) trades(ctx context.Context, id string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, side, entry_price, exit_price, qty, pnl, pnl_percent, entry_time, exit_time,
		 duration_hours, commission, reason FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t            domain.Trade
			side, reason string
			entry, exit  int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Qty, &t.PnL, &t.PnLPercent,
			&entry, &exit, &t.DurationHours, &t.Commission, &reason); err != nil {
			return nil, err
		}
		t.Side = domain.PositionSide(side)
		t.Reason = domain.ExitReason(reason)
		t.EntryTime = time.Unix(0, entry).UTC()
		t.ExitTime = time.Unix(0, exit).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) equity(ctx context.Context, id string) ([]domain.EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts, equity FROM run_equity WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EquityPoint
	for rows.Next() {
		var (
			ts int64
			p  domain.EquityPoint
		)
		if err := rows.Scan(&ts, &p.Equity); err != nil {
			return nil, err
		}
		p.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

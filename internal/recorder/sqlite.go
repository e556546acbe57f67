package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"LagSentinel/internal/model"
)

// SQLiteRecorder persists classifications and run summaries to SQLite. It
// may share a file with the candle store.
type SQLiteRecorder struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, log *zap.Logger) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// serialise writes from concurrent detector workers
	db.SetMaxOpenConns(1)

	r := &SQLiteRecorder{db: db, log: log.Named("recorder")}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	r.log.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS classifications (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT    NOT NULL,
			symbol       TEXT    NOT NULL,
			status       TEXT    NOT NULL,
			anomaly      INTEGER NOT NULL DEFAULT 0,
			magnitude    REAL,
			best_lag     INTEGER,
			correlations TEXT,
			reason       TEXT,
			err_kind     TEXT,
			error        TEXT,
			evaluated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_class_run ON classifications(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_class_symbol_ts ON classifications(symbol, evaluated_at)`,

		`CREATE TABLE IF NOT EXISTS scan_runs (
			run_id     TEXT PRIMARY KEY,
			started    INTEGER NOT NULL,
			elapsed_ms INTEGER,
			total      INTEGER,
			classified INTEGER,
			skipped    INTEGER,
			failed     INTEGER,
			anomalies  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Emit stores one classification.
func (r *SQLiteRecorder) Emit(ctx context.Context, c model.Classification) error {
	corrs, err := json.Marshal(c.Correlations)
	if err != nil {
		return fmt.Errorf("encode correlations: %w", err)
	}
	rec := ClassificationRecord{
		RunID:        c.RunID,
		Symbol:       c.Symbol,
		Status:       string(c.Status),
		Anomaly:      c.Anomaly,
		Magnitude:    c.Magnitude,
		BestLag:      c.BestLag,
		Correlations: string(corrs),
		Reason:       c.Reason,
		ErrKind:      c.ErrKind,
		EvaluatedAt:  c.EvaluatedAt.UnixMilli(),
	}
	if c.Err != nil {
		rec.Error = c.Err.Error()
	}
	_, err = r.db.NamedExecContext(ctx, `INSERT INTO classifications
		(run_id, symbol, status, anomaly, magnitude, best_lag, correlations, reason, err_kind, error, evaluated_at)
		VALUES (:run_id, :symbol, :status, :anomaly, :magnitude, :best_lag, :correlations, :reason, :err_kind, :error, :evaluated_at)`,
		rec)
	if err != nil {
		return fmt.Errorf("record classification %s: %w", c.Symbol, err)
	}
	return nil
}

// RecordRun stores a scan summary. Re-recording a run replaces it.
func (r *SQLiteRecorder) RecordRun(ctx context.Context, s model.RunSummary) error {
	rec := RunRecord{
		RunID:      s.RunID,
		Started:    s.Started.UnixMilli(),
		ElapsedMs:  s.Elapsed.Milliseconds(),
		Total:      s.Total,
		Classified: s.Classified,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
		Anomalies:  s.Anomalies,
	}
	_, err := r.db.NamedExecContext(ctx, `INSERT OR REPLACE INTO scan_runs
		(run_id, started, elapsed_ms, total, classified, skipped, failed, anomalies)
		VALUES (:run_id, :started, :elapsed_ms, :total, :classified, :skipped, :failed, :anomalies)`,
		rec)
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	return nil
}

// Anomalies returns flagged classifications evaluated at or after since,
// newest first.
func (r *SQLiteRecorder) Anomalies(ctx context.Context, since time.Time, limit int) ([]ClassificationRecord, error) {
	var out []ClassificationRecord
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM classifications
		WHERE anomaly = 1 AND evaluated_at >= ?
		ORDER BY evaluated_at DESC, id DESC
		LIMIT ?`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	return out, nil
}

// RunResults returns every classification of one run ordered by symbol.
func (r *SQLiteRecorder) RunResults(ctx context.Context, runID string) ([]ClassificationRecord, error) {
	var out []ClassificationRecord
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM classifications WHERE run_id = ? ORDER BY symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}
	return out, nil
}

// Runs returns the latest scan summaries, newest first.
func (r *SQLiteRecorder) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	var out []RunRecord
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM scan_runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	return out, nil
}

// PeriodCorrelations decodes the stored per-period results.
func (c ClassificationRecord) PeriodCorrelations() ([]model.PeriodCorrelation, error) {
	var out []model.PeriodCorrelation
	if c.Correlations == "" || c.Correlations == "null" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(c.Correlations), &out); err != nil {
		return nil, fmt.Errorf("decode correlations: %w", err)
	}
	return out, nil
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("closing sqlite recorder")
	return r.db.Close()
}

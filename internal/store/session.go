package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"

	"github.com/jmoiron/sqlx"

	"LagSentinel/internal/model"
)

const upsertSQL = `INSERT INTO candles
	(symbol, timeframe, timestamp, open, high, low, close, volume)
	VALUES (?,?,?,?,?,?,?,?)
	ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
		open = excluded.open,
		high = excluded.high,
		low = excluded.low,
		close = excluded.close,
		volume = excluded.volume`

// Stats describes what is stored for one (symbol, interval).
type Stats struct {
	Symbol   string        `db:"symbol"`
	Interval string        `db:"timeframe"`
	Count    int64         `db:"count"`
	Earliest sql.NullInt64 `db:"earliest"`
	Latest   sql.NullInt64 `db:"latest"`
}

// Session is one worker's connection to the store.
type Session struct {
	store *Store
	conn  *sqlx.Conn
	once  sync.Once
}

// Upsert merges candles by timestamp inside one transaction and returns the
// number of rows written. On failure nothing is written.
func (ss *Session) Upsert(ctx context.Context, symbol string, iv model.Interval, candles []model.Candle) (n int, err error) {
	if len(candles) == 0 {
		return 0, nil
	}
	for _, c := range candles {
		if !finite(c.Open, c.High, c.Low, c.Close, c.Volume) {
			return 0, fmt.Errorf("upsert %s %s: %w: non-finite value at %d", symbol, iv, model.ErrDataIntegrity, c.Timestamp)
		}
	}

	tx, err := ss.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, classify("upsert begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PreparexContext(ctx, upsertSQL)
	if err != nil {
		return 0, classify("upsert prepare", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err = stmt.ExecContext(ctx, symbol, string(iv), c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return 0, classify("upsert exec", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, classify("upsert commit", err)
	}
	return len(candles), nil
}

// Read returns candles with sinceMs <= timestamp <= untilMs in ascending
// order. An empty result is an empty slice, not an error.
func (ss *Session) Read(ctx context.Context, symbol string, iv model.Interval, sinceMs, untilMs int64) ([]model.Candle, error) {
	candles := []model.Candle{}
	err := ss.conn.SelectContext(ctx, &candles, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		symbol, string(iv), sinceMs, untilMs)
	if err != nil {
		return nil, classify("read", err)
	}
	return candles, nil
}

// LatestTimestamp returns the newest stored timestamp; ok is false when
// nothing is stored.
func (ss *Session) LatestTimestamp(ctx context.Context, symbol string, iv model.Interval) (ts int64, ok bool, err error) {
	return ss.bound(ctx, "MAX", symbol, iv)
}

// EarliestTimestamp returns the oldest stored timestamp; ok is false when
// nothing is stored.
func (ss *Session) EarliestTimestamp(ctx context.Context, symbol string, iv model.Interval) (ts int64, ok bool, err error) {
	return ss.bound(ctx, "MIN", symbol, iv)
}

func (ss *Session) bound(ctx context.Context, agg, symbol string, iv model.Interval) (int64, bool, error) {
	var v sql.NullInt64
	q := fmt.Sprintf("SELECT %s(timestamp) FROM candles WHERE symbol = ? AND timeframe = ?", agg)
	if err := ss.conn.GetContext(ctx, &v, q, symbol, string(iv)); err != nil {
		return 0, false, classify("bound", err)
	}
	return v.Int64, v.Valid, nil
}

// Stats returns the row count and bounds for one (symbol, interval).
func (ss *Session) Stats(ctx context.Context, symbol string, iv model.Interval) (Stats, error) {
	st := Stats{Symbol: symbol, Interval: string(iv)}
	err := ss.conn.GetContext(ctx, &st, `
		SELECT ? AS symbol, ? AS timeframe, COUNT(*) AS count,
		       MIN(timestamp) AS earliest, MAX(timestamp) AS latest
		FROM candles
		WHERE symbol = ? AND timeframe = ?`,
		symbol, string(iv), symbol, string(iv))
	if err != nil {
		return Stats{}, classify("stats", err)
	}
	return st, nil
}

// Close returns the connection to the pool. Safe to call more than once.
func (ss *Session) Close() error {
	var err error
	ss.once.Do(func() {
		ss.store.release(ss)
		err = ss.conn.Close()
	})
	return err
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

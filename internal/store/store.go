// Package store keeps every fetched candle in a local SQLite file.
//
// Workers obtain a Session once and keep it for their lifetime; a Session owns
// one pooled connection and is never shared between goroutines. All writes are
// idempotent upserts keyed by (symbol, timeframe, timestamp).
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"LagSentinel/internal/model"
)

// Store is the persistent candle table.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// Open opens (or creates) the SQLite database and runs migrations. maxConns
// bounds the number of live connections.
func Open(path string, maxConns int, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}

	s := &Store{db: db, log: log.Named("store"), sessions: make(map[*Session]struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info("sqlite store opened", zap.String("path", path), zap.Int("max_conns", maxConns))
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol    TEXT    NOT NULL,
			timeframe TEXT    NOT NULL,
			timestamp INTEGER NOT NULL,
			open      REAL    NOT NULL,
			high      REAL    NOT NULL,
			low       REAL    NOT NULL,
			close     REAL    NOT NULL,
			volume    REAL    NOT NULL,
			PRIMARY KEY (symbol, timeframe, timestamp)
		) WITHOUT ROWID`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Session hands out a dedicated connection. It blocks while the pool is
// exhausted, until ctx is done.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("store session: %w", model.ErrClosed)
	}
	s.mu.Unlock()

	conn, err := s.db.Connx(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("store session: %w: %w", model.ErrResourceExhausted, err)
		}
		return nil, classify("store session", err)
	}

	sess := &Session{store: s, conn: conn}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return nil, fmt.Errorf("store session: %w", model.ErrClosed)
	}
	s.sessions[sess] = struct{}{}
	return sess, nil
}

// AllStats reports row counts and bounds for every stored (symbol, interval).
func (s *Store) AllStats(ctx context.Context) ([]Stats, error) {
	var rows []Stats
	err := s.db.SelectContext(ctx, &rows, `
		SELECT symbol, timeframe, COUNT(*) AS count,
		       MIN(timestamp) AS earliest, MAX(timestamp) AS latest
		FROM candles
		GROUP BY symbol, timeframe
		ORDER BY symbol, timeframe`)
	if err != nil {
		return nil, classify("all stats", err)
	}
	return rows, nil
}

// Close releases every live session and the pool. Safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := sess.Close(); err != nil {
			s.log.Warn("close session", zap.Error(err))
		}
	}
	s.log.Info("closing sqlite store", zap.Int("sessions", len(sessions)))
	return s.db.Close()
}

func (s *Store) release(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// classify maps driver errors onto the shared error categories.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, model.ErrResourceExhausted, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH:
			return fmt.Errorf("%s: %w: %w", op, model.ErrDataIntegrity, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

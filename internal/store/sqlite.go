package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/shared"
)

const (
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
	defaultListSize = 50
	maxListSize     = 500
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed ledger.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS calls (
		call_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		turn_count INTEGER NOT NULL DEFAULT 0,
		end_reason TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at);
	CREATE INDEX IF NOT EXISTS idx_calls_ended ON calls(ended_at) WHERE ended_at IS NOT NULL;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) exec(ctx context.Context, name, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, writeRetries, writeRetryDelay, name, func(ctx context.Context) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// InsertCall records a newly accepted call.
func (s *SQLiteStore) InsertCall(ctx context.Context, rec domain.CallRecord) error {
	if rec.CallID == "" {
		return errors.New("insert call: empty call id")
	}
	query := `INSERT INTO calls (call_id, user_id, started_at, turn_count) VALUES (?, ?, ?, ?)`
	if _, err := s.exec(ctx, "insert call", query, rec.CallID, rec.UserID, rec.StartedAt.UnixMilli(), rec.TurnCount); err != nil {
		return err
	}
	return nil
}

// FinishCall stamps the end of a call that is still open.
func (s *SQLiteStore) FinishCall(ctx context.Context, callID string, endedAt time.Time, turnCount int, reason domain.EndReason) error {
	query := `
	UPDATE calls SET ended_at = ?, turn_count = ?, end_reason = ?
	WHERE call_id = ? AND ended_at IS NULL`
	if _, err := s.exec(ctx, "finish call", query, endedAt.UnixMilli(), turnCount, string(reason), callID); err != nil {
		return err
	}
	return nil
}

// GetCall retrieves a call by id.
func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	query := `
		SELECT call_id, user_id, started_at, ended_at, turn_count, end_reason
		FROM calls WHERE call_id = ?`

	rec, err := scanCall(s.db.QueryRowContext(ctx, query, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecentCalls returns up to limit calls, newest first.
func (s *SQLiteStore) ListRecentCalls(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	if limit > maxListSize {
		limit = maxListSize
	}

	query := `
		SELECT call_id, user_id, started_at, ended_at, turn_count, end_reason
		FROM calls ORDER BY started_at DESC, call_id LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return out, nil
}

// DeleteCallsBefore removes finished calls that ended before cutoff.
func (s *SQLiteStore) DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM calls WHERE ended_at IS NOT NULL AND ended_at < ?`
	res, err := s.exec(ctx, "delete calls", query, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CloseOrphanedCalls finishes calls that were never closed, typically after a crash.
func (s *SQLiteStore) CloseOrphanedCalls(ctx context.Context, endedAt time.Time, reason domain.EndReason) (int64, error) {
	query := `UPDATE calls SET ended_at = ?, end_reason = ? WHERE ended_at IS NULL`
	res, err := s.exec(ctx, "close orphaned calls", query, endedAt.UnixMilli(), string(reason))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.CallRecord, error) {
	var rec domain.CallRecord
	var startedAt int64
	var endedAt sql.NullInt64
	var reason sql.NullString

	if err := row.Scan(&rec.CallID, &rec.UserID, &startedAt, &endedAt, &rec.TurnCount, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan call row: %w", err)
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &t
	}
	rec.EndReason = domain.EndReason(reason.String)
	return &rec, nil
}

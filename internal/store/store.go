// Package store persists call metadata. Turn content is never stored.
package store

import (
	"context"
	"time"

	"github.com/ashureev/callrelay/internal/domain"
)

// Repository is the call ledger.
type Repository interface {
	// InsertCall records a newly accepted call.
	InsertCall(ctx context.Context, rec domain.CallRecord) error

	// FinishCall stamps the end of a call. Finishing an already finished or
	// unknown call is a no-op.
	FinishCall(ctx context.Context, callID string, endedAt time.Time, turnCount int, reason domain.EndReason) error

	// GetCall retrieves a call by id, or nil if unknown.
	GetCall(ctx context.Context, callID string) (*domain.CallRecord, error)

	// ListRecentCalls returns up to limit calls, newest first.
	ListRecentCalls(ctx context.Context, limit int) ([]*domain.CallRecord, error)

	// DeleteCallsBefore removes finished calls that ended before cutoff.
	DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// CloseOrphanedCalls finishes calls left open by a previous process.
	CloseOrphanedCalls(ctx context.Context, endedAt time.Time, reason domain.EndReason) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

package domain

import (
	"time"
)

// EndReason explains why a call left the ACTIVE state.
type EndReason string

const (
	EndReasonEndCall        EndReason = "end_call"
	EndReasonDisconnect     EndReason = "disconnect"
	EndReasonMalformedFrame EndReason = "malformed_frame"
	EndReasonTransportError EndReason = "transport_error"
	EndReasonSuperseded     EndReason = "superseded"
	EndReasonIdleTimeout    EndReason = "idle_timeout"
	EndReasonAdminTeardown  EndReason = "admin_teardown"
	EndReasonShutdown       EndReason = "shutdown"
)

// CallRecord is the ledger entry for one call. It never carries turn content.
type CallRecord struct {
	CallID    string     `json:"call_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	TurnCount int        `json:"turn_count"`
	EndReason EndReason  `json:"end_reason,omitempty"`
}

// Active returns true if the call has not been finished in the ledger.
func (c *CallRecord) Active() bool {
	return c.EndedAt == nil
}

// Duration returns how long the call lasted, or has lasted so far.
func (c *CallRecord) Duration(now time.Time) time.Duration {
	end := now
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	if end.Before(c.StartedAt) {
		return 0
	}
	return end.Sub(c.StartedAt)
}

package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/callrelay/internal/domain"
)

const defaultReaperInterval = time.Minute

// LedgerSweeper deletes finished call records older than a cutoff.
type LedgerSweeper interface {
	DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReaperConfig configures the idle-call reaper.
type ReaperConfig struct {
	Registry    *Registry
	IdleTimeout time.Duration
	Interval    time.Duration

	// Optional ledger retention sweep run on the same ticker.
	Ledger    LedgerSweeper
	Retention time.Duration

	Logger *slog.Logger
}

// StartReaper runs a background goroutine that terminates calls with no
// inbound activity for IdleTimeout and prunes old ledger records. It stops
// when ctx is cancelled.
func StartReaper(ctx context.Context, cfg ReaperConfig) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReaperInterval
	}

	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		cfg.Logger.Info("Call reaper started", "interval", cfg.Interval, "idle_timeout", cfg.IdleTimeout)

		for {
			select {
			case <-ticker.C:
				now := time.Now()
				if n := ReapIdle(cfg.Registry, cfg.IdleTimeout, now); n > 0 {
					cfg.Logger.Info("Reaped idle calls", "count", n)
				}
				sweepLedger(ctx, cfg, now)
			case <-ctx.Done():
				cfg.Logger.Info("Call reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// ReapIdle terminates every session whose last activity is older than
// idleTimeout at now. It returns the number of sessions terminated.
func ReapIdle(registry *Registry, idleTimeout time.Duration, now time.Time) int {
	if registry == nil || idleTimeout <= 0 {
		return 0
	}

	reaped := 0
	for _, s := range registry.Snapshot() {
		if now.Sub(s.LastActivity()) < idleTimeout {
			continue
		}
		s.logger.Info("Call idle, terminating",
			"user_id", s.UserID(),
			"call_id", s.CallID(),
			"idle_for", now.Sub(s.LastActivity()).Round(time.Second),
		)
		s.Terminate(domain.EndReasonIdleTimeout)
		reaped++
	}
	return reaped
}

func sweepLedger(ctx context.Context, cfg ReaperConfig, now time.Time) {
	if cfg.Ledger == nil || cfg.Retention <= 0 {
		return
	}
	deleted, err := cfg.Ledger.DeleteCallsBefore(ctx, now.Add(-cfg.Retention))
	if err != nil {
		cfg.Logger.Error("Ledger retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		cfg.Logger.Info("Pruned old call records", "count", deleted)
	}
}

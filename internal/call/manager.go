package call

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/callrelay/internal/domain"
)

const (
	defaultQueueSize = 8
	shutdownWait     = 5 * time.Second
)

// ManagerConfig holds the shared dependencies of every call.
type ManagerConfig struct {
	Pipeline  *Pipeline
	Registry  *Registry
	Ledger    Ledger // optional
	QueueSize int
	Logger    *slog.Logger
}

// Manager creates sessions and tracks them in its registry.
type Manager struct {
	pipeline  *Pipeline
	registry  *Registry
	ledger    Ledger
	queueSize int
	logger    *slog.Logger
}

// NewManager creates a call manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("call manager requires a pipeline")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Manager{
		pipeline:  cfg.Pipeline,
		registry:  cfg.Registry,
		ledger:    cfg.Ledger,
		queueSize: cfg.QueueSize,
		logger:    cfg.Logger,
	}, nil
}

// Registry returns the registry of active calls.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Open starts a session for userID on conn and registers it. The session it
// replaced in the registry, if any, is returned for the caller to terminate.
func (m *Manager) Open(userID string, conn Conn) (*Session, *Session) {
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		userID:    userID,
		callID:    uuid.NewString(),
		startedAt: now,
		conn:      conn,
		pipeline:  m.pipeline,
		registry:  m.registry,
		ledger:    m.ledger,
		logger:    m.logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.active.Store(true)
	s.lastActivity.Store(now.UnixNano())
	s.queue = NewTurnQueue(m.queueSize, userID, func(ctx context.Context, audio []byte) {
		s.ProcessTurn(ctx, audio)
	}, m.logger)

	if m.ledger != nil {
		ledgerCtx, ledgerCancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
		err := m.ledger.InsertCall(ledgerCtx, domain.CallRecord{
			CallID:    s.callID,
			UserID:    userID,
			StartedAt: now,
		})
		ledgerCancel()
		if err != nil {
			m.logger.Warn("Failed to record call start", "user_id", userID, "call_id", s.callID, "error", err)
		}
	}

	previous := m.registry.Register(userID, s)
	m.logger.Info("Call started", "user_id", userID, "call_id", s.callID)
	return s, previous
}

// Shutdown terminates every active call and waits, up to shutdownWait in
// total, for their turn workers to exit.
func (m *Manager) Shutdown() int {
	sessions := m.registry.Snapshot()
	n := m.registry.TerminateAll(domain.EndReasonShutdown)

	deadline := time.Now().Add(shutdownWait)
	for _, s := range sessions {
		if s.queue == nil {
			continue
		}
		if !s.queue.Wait(time.Until(deadline)) {
			m.logger.Warn("Turn worker still running after shutdown", "user_id", s.UserID(), "call_id", s.CallID())
		}
	}
	return n
}

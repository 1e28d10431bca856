package call

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/callrelay/internal/domain"
)

// Registry maps caller identities to their active session. It holds at
// most one session per identity.
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Session
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]*Session),
		logger: logger,
	}
}

// Register stores session under userID and returns the session it replaced,
// if any. The replaced session is not terminated here.
func (r *Registry) Register(userID string, session *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.active[userID]
	if previous == session {
		previous = nil
	}
	r.active[userID] = session
	r.logger.Info("Call session registered", "user_id", userID, "call_id", session.CallID(), "replaced", previous != nil)
	return previous
}

// Unregister removes whatever session is stored under userID.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userID]; ok {
		delete(r.active, userID)
		r.logger.Info("Call session unregistered", "user_id", userID)
	}
}

// Release removes the entry for userID only if it is still session, so a
// superseded session never evicts its replacement.
func (r *Registry) Release(userID string, session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[userID]; ok && current == session {
		delete(r.active, userID)
		r.logger.Info("Call session released", "user_id", userID, "call_id", session.CallID())
		return true
	}
	return false
}

// Lookup returns the active session for userID, or nil.
func (r *Registry) Lookup(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[userID]
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Snapshot returns the registered sessions ordered by start time.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt().Before(out[j].StartedAt())
	})
	return out
}

// TerminateAll ends every registered session with reason and waits for
// each to finish closing.
func (r *Registry) TerminateAll(reason domain.EndReason) int {
	sessions := r.Snapshot()
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Terminate(reason)
		}()
	}
	wg.Wait()
	if len(sessions) > 0 {
		r.logger.Info("Terminated active calls", "count", len(sessions), "reason", string(reason))
	}
	return len(sessions)
}

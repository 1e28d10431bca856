package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/callrelay/internal/call"
	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/identity"
)

// teardownLocks prevents concurrent teardown requests for the same caller.
var teardownLocks sync.Map

// CallSummary describes one live call.
type CallSummary struct {
	Identity     string    `json:"identity"`
	CallID       string    `json:"call_id"`
	StartedAt    time.Time `json:"started_at"`
	Turns        int       `json:"turns"`
	QueuedTurns  int       `json:"queued_turns"`
	LastActivity time.Time `json:"last_activity"`
}

// CallDetail is a live call including its conversation so far.
type CallDetail struct {
	CallSummary
	History []domain.Turn `json:"history"`
}

func summarize(s *call.Session) CallSummary {
	return CallSummary{
		Identity:     s.UserID(),
		CallID:       s.CallID(),
		StartedAt:    s.StartedAt(),
		Turns:        s.TurnCount(),
		QueuedTurns:  s.QueueLen(),
		LastActivity: s.LastActivity(),
	}
}

// CallHandler serves live call inspection and the call ledger.
type CallHandler struct {
	*Handler
}

// NewCallHandler creates a new call handler.
func NewCallHandler(base *Handler) *CallHandler {
	return &CallHandler{Handler: base}
}

// RegisterRoutes registers call routes.
func (h *CallHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/calls", h.ListCalls)
		r.Get("/calls/{identity}", h.GetCall)
		r.Delete("/calls/{identity}", h.EndCall)
		r.Get("/ledger", h.ListLedger)
		r.Get("/ledger/{callID}", h.GetLedgerRecord)
	})
}

// ListCalls returns every live call, oldest first.
func (h *CallHandler) ListCalls(w http.ResponseWriter, _ *http.Request) {
	sessions := h.calls.Registry().Snapshot()
	out := make([]CallSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"calls": out,
		"count": len(out),
	})
}

// GetCall returns the live call for one identity.
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "identity")
	if !identity.Valid(userID) {
		Error(w, http.StatusBadRequest, "invalid caller id")
		return
	}

	s := h.calls.Registry().Lookup(userID)
	if s == nil {
		Error(w, http.StatusNotFound, "no active call")
		return
	}

	history := s.History()
	if history == nil {
		history = []domain.Turn{}
	}
	JSON(w, http.StatusOK, CallDetail{CallSummary: summarize(s), History: history})
}

// EndCall terminates the live call for one identity.
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "identity")
	if !identity.Valid(userID) {
		Error(w, http.StatusBadRequest, "invalid caller id")
		return
	}

	lock, _ := teardownLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Teardown already in progress", "user_id", userID)
		JSON(w, http.StatusOK, map[string]string{"status": "ending"})
		return
	}
	defer func() {
		mutex.Unlock()
		teardownLocks.Delete(userID)
	}()

	s := h.calls.Registry().Lookup(userID)
	if s == nil {
		Error(w, http.StatusNotFound, "no active call")
		return
	}

	h.logger.Info("Tearing down call", "user_id", userID, "call_id", s.CallID())
	// Terminate blocks on the websocket close handshake.
	go s.Terminate(domain.EndReasonAdminTeardown)

	JSON(w, http.StatusOK, map[string]string{
		"status":  "ending",
		"call_id": s.CallID(),
	})
}

// ListLedger returns recent call records, newest first.
func (h *CallHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		Error(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := h.ledger.ListRecentCalls(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list call records", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if records == nil {
		records = []*domain.CallRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"calls": records,
		"count": len(records),
	})
}

// GetLedgerRecord returns one call record by call id.
func (h *CallHandler) GetLedgerRecord(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		Error(w, http.StatusServiceUnavailable, "ledger disabled")
		return
	}

	callID := chi.URLParam(r, "callID")
	rec, err := h.ledger.GetCall(r.Context(), callID)
	if err != nil {
		h.logger.Error("Failed to read call record", "call_id", callID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "unknown call")
		return
	}
	JSON(w, http.StatusOK, rec)
}

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/callrelay/internal/identity"
)

const notifyTimeout = 10 * time.Second

// initiateLocks prevents concurrent initiation for the same caller.
var initiateLocks sync.Map

// Notifier delivers an incoming-call notification to a device.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, userID string) error
}

// LogNotifier records the notification instead of delivering it.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyIncomingCall implements Notifier.
func (n LogNotifier) NotifyIncomingCall(_ context.Context, userID string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Incoming call notification", "user_id", userID)
	return nil
}

// InitiateHandler asks a caller's device to open a call.
type InitiateHandler struct {
	*Handler
	notifier Notifier
}

// NewInitiateHandler creates a new initiate handler.
func NewInitiateHandler(base *Handler, notifier Notifier) *InitiateHandler {
	if notifier == nil {
		notifier = LogNotifier{Logger: base.logger}
	}
	return &InitiateHandler{Handler: base, notifier: notifier}
}

// RegisterRoutes registers the initiate route.
func (h *InitiateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/call/initiate", h.Initiate)
}

func initiateResult(w http.ResponseWriter, status int, outcome, message string) {
	JSON(w, status, map[string]string{"status": outcome, "message": message})
}

// Initiate hands the caller named by ?user_id to the notifier.
func (h *InitiateHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get(identity.CallerQueryParam))
	if userID == "" {
		initiateResult(w, http.StatusBadRequest, "error", "user_id is required")
		return
	}
	if !identity.Valid(userID) {
		initiateResult(w, http.StatusBadRequest, "error", "invalid user_id")
		return
	}

	lock, _ := initiateLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Call initiation already in progress", "user_id", userID)
		initiateResult(w, http.StatusConflict, "error", "initiation_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		initiateLocks.Delete(userID)
	}()

	ctx, cancel := context.WithTimeout(r.Context(), notifyTimeout)
	defer cancel()

	if err := h.notifier.NotifyIncomingCall(ctx, userID); err != nil {
		h.logger.Error("Failed to initiate call", "error", err, "user_id", userID)
		initiateResult(w, http.StatusInternalServerError, "error", err.Error())
		return
	}

	h.logger.Info("Call initiated", "user_id", userID)
	initiateResult(w, http.StatusOK, "ok", fmt.Sprintf("Call initiated to %s", userID))
}

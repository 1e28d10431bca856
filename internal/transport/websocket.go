// Package transport terminates client websocket connections and drives each
// one through its call session.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/callrelay/internal/call"
	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/identity"
)

const (
	defaultMaxFrameBytes = 10 << 20
	defaultWriteTimeout  = 10 * time.Second
)

// State is the lifecycle position of one connection.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// connState enforces CONNECTING → ACTIVE → CLOSING → CLOSED. CONNECTING may
// also move straight to CLOSING when setup fails.
type connState struct {
	mu    sync.Mutex
	state State
}

func (c *connState) Get() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connState) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := false
	switch c.state {
	case StateConnecting:
		ok = to == StateActive || to == StateClosing
	case StateActive:
		ok = to == StateClosing
	case StateClosing:
		ok = to == StateClosed
	}
	if !ok {
		return fmt.Errorf("invalid transition %s -> %s", c.state, to)
	}
	c.state = to
	return nil
}

// wsConn adapts a websocket to call.Conn.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) Send(ctx context.Context, f call.Frame) error {
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, f)
}

func (c *wsConn) Close(reason string) error {
	code := websocket.StatusNormalClosure
	switch domain.EndReason(reason) {
	case domain.EndReasonMalformedFrame:
		code = websocket.StatusUnsupportedData
	case domain.EndReasonShutdown:
		code = websocket.StatusGoingAway
	case domain.EndReasonTransportError, domain.EndReasonDisconnect:
		return c.ws.CloseNow()
	}
	return c.ws.Close(code, reason)
}

// EndpointConfig configures the call websocket endpoint.
type EndpointConfig struct {
	Calls         *call.Manager
	AllowedOrigin string
	IsDev         bool
	MaxFrameBytes int64
	WriteTimeout  time.Duration
	Logger        *slog.Logger
}

// Endpoint is the http.Handler for GET /call/connect.
type Endpoint struct {
	calls         *call.Manager
	allowedOrigin string
	isDev         bool
	maxFrameBytes int64
	writeTimeout  time.Duration
	logger        *slog.Logger

	// onState observes transitions; used by tests.
	onState func(userID string, s State)
}

// NewEndpoint creates a websocket endpoint.
func NewEndpoint(cfg EndpointConfig) *Endpoint {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = defaultMaxFrameBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Endpoint{
		calls:         cfg.Calls,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
		maxFrameBytes: cfg.MaxFrameBytes,
		writeTimeout:  cfg.WriteTimeout,
		logger:        cfg.Logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	e.logger.Info("Call connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "caller identity required", http.StatusBadRequest)
		return
	}
	if !e.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		e.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(e.maxFrameBytes)

	var st connState
	conn := &wsConn{ws: ws, writeTimeout: e.writeTimeout}
	session, previous := e.calls.Open(userID, conn)
	if previous != nil {
		e.logger.Info("Superseding previous call", "user_id", userID, "call_id", previous.CallID())
		// The close handshake with the old client must not delay this one.
		go previous.Terminate(domain.EndReasonSuperseded)
	}

	e.setState(&st, userID, StateActive)
	if err := session.Send(call.ConnectedFrame()); err != nil {
		e.logger.Warn("Failed to send connected frame", "error", err, "user_id", userID)
		e.setState(&st, userID, StateClosing)
		session.Terminate(domain.EndReasonTransportError)
		e.setState(&st, userID, StateClosed)
		return
	}

	reason := e.receiveLoop(r.Context(), ws, session)

	e.setState(&st, userID, StateClosing)
	session.Terminate(reason)
	e.setState(&st, userID, StateClosed)
}

func (e *Endpoint) setState(st *connState, userID string, to State) {
	from := st.Get()
	if err := st.transition(to); err != nil {
		e.logger.Error("Connection state error", "error", err, "user_id", userID)
		return
	}
	e.logger.Debug("Connection state", "user_id", userID, "from", from.String(), "to", to.String())
	if e.onState != nil {
		e.onState(userID, to)
	}
}

// receiveLoop reads frames until the call should end and returns why.
func (e *Endpoint) receiveLoop(ctx context.Context, ws *websocket.Conn, session *call.Session) domain.EndReason {
	userID := session.UserID()
	for {
		msgType, data, err := ws.Read(ctx)
		if err != nil {
			return e.readFailure(session, err)
		}
		session.Touch()

		if msgType != websocket.MessageText {
			e.rejectFrame(session, fmt.Errorf("unexpected %s message", msgType))
			return domain.EndReasonMalformedFrame
		}

		in, err := call.DecodeFrame(data)
		if err != nil {
			e.rejectFrame(session, err)
			return domain.EndReasonMalformedFrame
		}

		switch in.Type {
		case call.FrameAudio:
			if err := session.Submit(in.Audio); err != nil {
				if errors.Is(err, call.ErrCallBusy) {
					e.sendBestEffort(session, call.ErrorFrame(call.MsgCallBusy))
					continue
				}
				return session.EndReason()
			}
		case call.FrameEndCall:
			e.logger.Info("End of call requested", "user_id", userID, "call_id", session.CallID())
			return domain.EndReasonEndCall
		default:
			e.logger.Debug("Ignoring unknown frame type", "user_id", userID, "type", in.Type)
		}
	}
}

func (e *Endpoint) readFailure(session *call.Session, err error) domain.EndReason {
	userID := session.UserID()
	switch {
	case !session.Active():
		// Ended elsewhere: superseded, reaped or torn down.
		return session.EndReason()
	case websocket.CloseStatus(err) != -1:
		e.logger.Debug("WebSocket closed by client", "user_id", userID, "status", websocket.CloseStatus(err))
		return domain.EndReasonDisconnect
	case errors.Is(err, context.Canceled):
		return domain.EndReasonDisconnect
	default:
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return domain.EndReasonDisconnect
		}
		e.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
		return domain.EndReasonTransportError
	}
}

func (e *Endpoint) rejectFrame(session *call.Session, err error) {
	e.logger.Warn("Malformed frame", "error", err, "user_id", session.UserID(), "call_id", session.CallID())
	e.sendBestEffort(session, call.ErrorFrame(call.MsgMalformedFrame))
}

func (e *Endpoint) sendBestEffort(session *call.Session, f call.Frame) {
	if err := session.Send(f); err != nil {
		e.logger.Debug("Failed to send frame", "error", err, "user_id", session.UserID(), "type", f.Type)
	}
}

func (e *Endpoint) checkOrigin(r *http.Request) bool {
	if e.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || e.allowedOrigin == "*" {
		return true
	}
	if origin == e.allowedOrigin {
		return true
	}
	e.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", e.allowedOrigin)
	return false
}

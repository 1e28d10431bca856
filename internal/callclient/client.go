// Package callclient places calls against a relay server and reads its
// admin API. It backs the callctl CLI.
package callclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/callrelay/internal/call"
	"github.com/ashureev/callrelay/internal/identity"
)

// ErrCallEnded is returned once the server has closed the call.
var ErrCallEnded = errors.New("call ended by server")

// RemoteError is an error frame sent by the server.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

// Call is one live websocket call.
type Call struct {
	ws        *websocket.Conn
	connected string
	logger    *slog.Logger
}

// ConnectURL derives the websocket call URL from a server base URL.
func ConnectURL(server, userID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/call/connect"
	q := u.Query()
	if userID != "" {
		q.Set(identity.CallerQueryParam, userID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a call and waits for the server's connected frame.
func Dial(ctx context.Context, server, userID string, logger *slog.Logger) (*Call, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := ConnectURL(server, userID)
	if err != nil {
		return nil, err
	}

	ws, resp, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", target, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	ws.SetReadLimit(-1)

	c := &Call{ws: ws, logger: logger}
	f, err := c.Next(ctx)
	if err != nil {
		_ = ws.CloseNow()
		return nil, fmt.Errorf("await connected frame: %w", err)
	}
	if f.Type != call.FrameConnected {
		_ = ws.CloseNow()
		return nil, fmt.Errorf("expected %s frame, got %q", call.FrameConnected, f.Type)
	}
	c.connected = f.Message
	logger.Debug("Call connected", "url", target, "message", f.Message)
	return c, nil
}

// Greeting returns the message carried by the connected frame.
func (c *Call) Greeting() string {
	return c.connected
}

// SendAudio submits one utterance.
func (c *Call) SendAudio(ctx context.Context, audio []byte) error {
	return wsjson.Write(ctx, c.ws, call.Frame{
		Type: call.FrameAudio,
		Data: base64.StdEncoding.EncodeToString(audio),
	})
}

// Next reads the next frame from the server.
func (c *Call) Next(ctx context.Context) (call.Frame, error) {
	var f call.Frame
	if err := wsjson.Read(ctx, c.ws, &f); err != nil {
		if websocket.CloseStatus(err) != -1 {
			return call.Frame{}, fmt.Errorf("%w: %s", ErrCallEnded, websocket.CloseStatus(err))
		}
		return call.Frame{}, err
	}
	return f, nil
}

// Ask sends an utterance and waits for the spoken reply. An error frame is
// returned as a *RemoteError.
func (c *Call) Ask(ctx context.Context, audio []byte) ([]byte, error) {
	if err := c.SendAudio(ctx, audio); err != nil {
		return nil, fmt.Errorf("send audio: %w", err)
	}
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch f.Type {
		case call.FrameAudio:
			reply, err := base64.StdEncoding.DecodeString(f.Data)
			if err != nil {
				return nil, fmt.Errorf("decode reply audio: %w", err)
			}
			return reply, nil
		case call.FrameError:
			return nil, &RemoteError{Message: f.Message}
		default:
			c.logger.Debug("Skipping frame", "type", f.Type)
		}
	}
}

// Hangup sends end_call and waits for the server to close the connection.
func (c *Call) Hangup(ctx context.Context) error {
	if err := wsjson.Write(ctx, c.ws, map[string]string{"type": call.FrameEndCall}); err != nil {
		_ = c.ws.CloseNow()
		return fmt.Errorf("send end_call: %w", err)
	}
	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			_ = c.ws.CloseNow()
			return fmt.Errorf("await close: %w", err)
		}
	}
}

// Close drops the connection without the end_call handshake.
func (c *Call) Close() error {
	return c.ws.CloseNow()
}

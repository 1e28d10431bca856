package call

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types exchanged with the client.
const (
	FrameAudio     = "audio"
	FrameEndCall   = "end_call"
	FrameConnected = "connected"
	FrameError     = "error"
)

// ConnectedMessage greets the caller once the call is active.
const ConnectedMessage = "Call connected. Start speaking!"

// Error frame messages.
const (
	MsgSynthesisFailed = "speech synthesis failed"
	MsgCallBusy        = "call busy"
	MsgMalformedFrame  = "malformed frame"
)

var errMalformedFrame = errors.New("malformed frame")

// Frame is the JSON envelope used in both directions.
type Frame struct {
	Type    string `json:"type"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// AudioFrame wraps encoded audio for the client.
func AudioFrame(audio []byte) Frame {
	return Frame{Type: FrameAudio, Data: base64.StdEncoding.EncodeToString(audio)}
}

// ErrorFrame carries a short human-readable failure notice.
func ErrorFrame(msg string) Frame {
	return Frame{Type: FrameError, Message: msg}
}

// ConnectedFrame acknowledges a newly active call.
func ConnectedFrame() Frame {
	return Frame{Type: FrameConnected, Message: ConnectedMessage}
}

// Inbound is a decoded client frame. Audio is set only for FrameAudio.
type Inbound struct {
	Type  string
	Audio []byte
}

// DecodeFrame parses one client message. Rejections satisfy IsMalformed.
// Frames of an unknown type decode successfully so callers can ignore them.
func DecodeFrame(raw []byte) (Inbound, error) {
	var msg struct {
		Type *string `json:"type"`
		Data *string `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", errMalformedFrame, err)
	}
	if msg.Type == nil || *msg.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", errMalformedFrame)
	}

	in := Inbound{Type: *msg.Type}
	if in.Type != FrameAudio {
		return in, nil
	}
	if msg.Data == nil {
		return Inbound{}, fmt.Errorf("%w: audio frame without data", errMalformedFrame)
	}
	audio, err := base64.StdEncoding.DecodeString(*msg.Data)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: audio data: %w", errMalformedFrame, err)
	}
	in.Audio = audio
	return in, nil
}

// IsMalformed reports whether err came from DecodeFrame rejecting input.
func IsMalformed(err error) bool {
	return errors.Is(err, errMalformedFrame)
}

package call

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/callrelay/internal/agent"
	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/speech"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	mu          sync.Mutex
	frames      []Frame
	closed      bool
	closeCalls  int
	closeReason string
	sendErr     error
}

func (c *fakeConn) Send(_ context.Context, f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	if c.closed {
		return errConnClosed
	}
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

type finishedCall struct {
	callID string
	turns  int
	reason domain.EndReason
}

type fakeLedger struct {
	mu       sync.Mutex
	inserted []domain.CallRecord
	finished []finishedCall
	swept    []time.Time
}

func (l *fakeLedger) InsertCall(_ context.Context, rec domain.CallRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inserted = append(l.inserted, rec)
	return nil
}

func (l *fakeLedger) FinishCall(_ context.Context, callID string, _ time.Time, turns int, reason domain.EndReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = append(l.finished, finishedCall{callID: callID, turns: turns, reason: reason})
	return nil
}

func (l *fakeLedger) DeleteCallsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.swept = append(l.swept, cutoff)
	return 0, nil
}

func (l *fakeLedger) Finished() []finishedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]finishedCall, len(l.finished))
	copy(out, l.finished)
	return out
}

// echoTranscriber returns the audio bytes as text.
func echoTranscriber() speech.Transcriber {
	return speech.TranscribeFunc(func(_ context.Context, audio []byte) (string, error) {
		return string(audio), nil
	})
}

// prefixResponder replies "re:<text>".
func prefixResponder() agent.Responder {
	return agent.ResponderFunc(func(_ context.Context, userText string, _ []domain.Turn) (string, error) {
		return "re:" + userText, nil
	})
}

// textSynthesizer returns the reply text as audio.
func textSynthesizer() speech.Synthesizer {
	return speech.SynthesizeFunc(func(_ context.Context, text string) ([]byte, error) {
		return []byte(text), nil
	})
}

type testDeps struct {
	transcriber speech.Transcriber
	responder   agent.Responder
	synthesizer speech.Synthesizer
	timeouts    Timeouts
	queueSize   int
	ledger      Ledger
}

func newTestManager(t *testing.T, deps testDeps) *Manager {
	t.Helper()
	if deps.transcriber == nil {
		deps.transcriber = echoTranscriber()
	}
	if deps.responder == nil {
		deps.responder = prefixResponder()
	}
	if deps.synthesizer == nil {
		deps.synthesizer = textSynthesizer()
	}

	p, err := NewPipeline(PipelineConfig{
		Transcriber: deps.transcriber,
		Responder:   deps.responder,
		Synthesizer: deps.synthesizer,
		Timeouts:    deps.timeouts,
	})
	if err != nil {
		t.Fatalf("NewPipeline() error: %v", err)
	}
	m, err := NewManager(ManagerConfig{Pipeline: p, QueueSize: deps.queueSize, Ledger: deps.ledger})
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	t.Cleanup(func() { m.Shutdown() })
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func historyString(turns []domain.Turn) string {
	parts := make([]string, len(turns))
	for i, turn := range turns {
		parts[i] = string(turn.Role) + ":" + turn.Content
	}
	return strings.Join(parts, " | ")
}

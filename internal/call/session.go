// Package call implements the per-connection call session: its turn
// pipeline, history, and the process-wide registry of active calls.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/callrelay/internal/agent"
	"github.com/ashureev/callrelay/internal/domain"
)

// Conn is the session's exclusively owned connection to the client.
// Implementations must allow Send and Close from different goroutines.
type Conn interface {
	Send(ctx context.Context, f Frame) error
	Close(reason string) error
}

// Ledger records call metadata. It never sees turn content.
type Ledger interface {
	InsertCall(ctx context.Context, rec domain.CallRecord) error
	FinishCall(ctx context.Context, callID string, endedAt time.Time, turnCount int, reason domain.EndReason) error
}

const ledgerWriteTimeout = 5 * time.Second

// TurnOutcome is how a turn ended as seen by the caller.
type TurnOutcome int

const (
	// TurnSkipped means transcription produced no text (or failed); nothing was
	// recorded or sent.
	TurnSkipped TurnOutcome = iota
	// TurnReplied means an audio frame was sent.
	TurnReplied
	// TurnSynthesisFailed means an error frame was sent in place of audio.
	TurnSynthesisFailed
	// TurnAbandoned means the session ended while the turn was in flight.
	TurnAbandoned
)

func (o TurnOutcome) String() string {
	switch o {
	case TurnSkipped:
		return "skipped"
	case TurnReplied:
		return "replied"
	case TurnSynthesisFailed:
		return "synthesis_failed"
	case TurnAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// TurnReport describes one ProcessTurn call.
type TurnReport struct {
	Outcome       TurnOutcome
	UserText      string
	Reply         string
	UsedFallback  bool
	Transcription StageResult
	Generation    StageResult
	Synthesis     StageResult
	Duration      time.Duration
}

// Session is one live call for one identity.
type Session struct {
	userID    string
	callID    string
	startedAt time.Time

	conn     Conn
	pipeline *Pipeline
	registry *Registry
	ledger   Ledger
	queue    *TurnQueue
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	active       atomic.Bool
	lastActivity atomic.Int64
	turnCount    atomic.Int64

	turnMu sync.Mutex
	sendMu sync.Mutex

	mu        sync.RWMutex
	history   []domain.Turn
	endReason domain.EndReason
	endedAt   time.Time

	terminateOnce sync.Once
	done          chan struct{}
}

// UserID returns the caller identity the session is registered under.
func (s *Session) UserID() string { return s.userID }

// CallID returns the unique id of this call.
func (s *Session) CallID() string { return s.callID }

// StartedAt returns when the call was accepted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Active reports whether the session still processes turns.
func (s *Session) Active() bool { return s.active.Load() }

// Done is closed once Terminate has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// LastActivity returns the time of the last inbound frame or completed turn.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Touch marks inbound activity for the idle reaper.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// TurnCount returns the number of turns that produced an outbound frame.
func (s *Session) TurnCount() int {
	return int(s.turnCount.Load())
}

// QueueLen returns the number of utterances waiting behind the current turn.
func (s *Session) QueueLen() int {
	if s.queue == nil {
		return 0
	}
	return s.queue.Len()
}

// History returns a copy of the turn history in conversational order.
func (s *Session) History() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// EndReason returns why the session was terminated, or "" while active.
func (s *Session) EndReason() domain.EndReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endReason
}

func (s *Session) appendTurn(t domain.Turn) {
	s.mu.Lock()
	s.history = append(s.history, t)
	s.mu.Unlock()
}

// Submit queues an utterance for processing behind any in-flight turn.
func (s *Session) Submit(audio []byte) error {
	if !s.Active() {
		return ErrSessionClosed
	}
	return s.queue.Enqueue(audio)
}

// Send writes a frame unless the session has ended. Write failures after
// termination are expected and swallowed.
func (s *Session) Send(f Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if !s.Active() {
		return ErrSessionClosed
	}
	if err := s.conn.Send(s.ctx, f); err != nil {
		if !s.Active() {
			s.logger.Debug("Dropped frame for ended call", "user_id", s.userID, "call_id", s.callID, "type", f.Type)
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// ProcessTurn runs one utterance through transcription, generation and
// synthesis and sends exactly one frame unless the utterance was empty or
// the session ended mid-turn. Concurrent calls are serialized.
func (s *Session) ProcessTurn(ctx context.Context, audio []byte) TurnReport {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	start := time.Now()
	report := s.processTurn(ctx, audio)
	report.Duration = time.Since(start)
	s.logTurn(report)
	return report
}

func (s *Session) processTurn(ctx context.Context, audio []byte) TurnReport {
	var report TurnReport
	if !s.Active() {
		report.Outcome = TurnAbandoned
		return report
	}

	text, tr := s.pipeline.transcribe(ctx, audio)
	report.Transcription = tr
	if tr.Outcome != OutcomeOK {
		report.Outcome = TurnSkipped
		return report
	}
	if !s.Active() {
		report.Outcome = TurnAbandoned
		return report
	}
	report.UserText = text

	prior := s.History()
	s.appendTurn(domain.UserTurn(text))

	genCtx := agent.ContextWithCaller(ctx, s.userID)
	reply, gr := s.pipeline.generate(genCtx, text, prior)
	report.Generation = gr
	report.Reply = reply
	report.UsedFallback = gr.Outcome != OutcomeOK
	if !s.Active() {
		report.Outcome = TurnAbandoned
		return report
	}
	s.appendTurn(domain.AssistantTurn(reply))

	voice, sr := s.pipeline.synthesize(ctx, reply)
	report.Synthesis = sr

	frame := AudioFrame(voice)
	report.Outcome = TurnReplied
	if sr.Outcome != OutcomeOK {
		frame = ErrorFrame(MsgSynthesisFailed)
		report.Outcome = TurnSynthesisFailed
	}

	if !s.Active() {
		report.Outcome = TurnAbandoned
		return report
	}
	if err := s.Send(frame); err != nil {
		if !errors.Is(err, ErrSessionClosed) {
			s.logger.Warn("Failed to send turn result", "user_id", s.userID, "call_id", s.callID, "error", err)
			s.Terminate(domain.EndReasonTransportError)
		}
		report.Outcome = TurnAbandoned
		return report
	}

	s.turnCount.Add(1)
	s.Touch()
	return report
}

func (s *Session) logTurn(r TurnReport) {
	attrs := []any{
		"user_id", s.userID,
		"call_id", s.callID,
		"outcome", r.Outcome.String(),
		"duration_ms", r.Duration.Milliseconds(),
	}
	for _, res := range []StageResult{r.Transcription, r.Generation, r.Synthesis} {
		if res.Outcome == OutcomeNotRun {
			continue
		}
		attrs = append(attrs, res.Stage.String(), res.Outcome.String(),
			res.Stage.String()+"_ms", res.Duration.Milliseconds())
		if res.Err != nil {
			s.logger.Warn("Turn stage failed",
				"user_id", s.userID,
				"call_id", s.callID,
				"stage", res.Stage.String(),
				"timed_out", res.TimedOut,
				"error", res.Err,
			)
		}
	}
	if r.UsedFallback {
		attrs = append(attrs, "fallback", true)
	}
	s.logger.Info("Turn processed", attrs...)
}

// Terminate ends the call: it clears the activity flag, stops queued and
// in-flight work, closes the connection and removes the session's own
// registry entry. Only the first call has any effect.
func (s *Session) Terminate(reason domain.EndReason) {
	s.terminateOnce.Do(func() {
		s.active.Store(false)
		now := time.Now()

		s.mu.Lock()
		s.endReason = reason
		s.endedAt = now
		s.mu.Unlock()

		if s.queue != nil {
			s.queue.Close()
		}
		s.cancel()

		// Wait out a Send that passed its activity check before the flag
		// flipped; the cancelled context bounds it.
		s.sendMu.Lock()
		//nolint:staticcheck // empty critical section is a barrier
		s.sendMu.Unlock()

		if err := s.conn.Close(string(reason)); err != nil {
			s.logger.Debug("Connection close failed", "user_id", s.userID, "call_id", s.callID, "error", err)
		}

		if s.registry != nil {
			s.registry.Release(s.userID, s)
		}

		if s.ledger != nil {
			ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
			if err := s.ledger.FinishCall(ctx, s.callID, now, s.TurnCount(), reason); err != nil {
				s.logger.Warn("Failed to finish call record", "call_id", s.callID, "error", err)
			}
			cancel()
		}

		s.logger.Info("Call ended",
			"user_id", s.userID,
			"call_id", s.callID,
			"reason", string(reason),
			"turns", s.TurnCount(),
			"duration_ms", now.Sub(s.startedAt).Milliseconds(),
		)
		close(s.done)
	})
}

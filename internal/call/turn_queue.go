package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrCallBusy is returned when a session already has a full backlog of
	// utterances waiting to be processed.
	ErrCallBusy = errors.New("call busy")
	// ErrSessionClosed is returned for work submitted after termination.
	ErrSessionClosed = errors.New("session closed")
)

const slowTurnThreshold = 5 * time.Second

// TurnQueue is a bounded FIFO of utterances drained by one worker goroutine,
// so turns of a call run strictly one at a time in arrival order.
type TurnQueue struct {
	items   chan []byte
	process func(ctx context.Context, audio []byte)
	userID  string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger
	once    sync.Once
}

// NewTurnQueue starts a worker that calls process for each enqueued utterance.
// The context handed to process is cancelled by Close.
func NewTurnQueue(size int, userID string, process func(ctx context.Context, audio []byte), logger *slog.Logger) *TurnQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &TurnQueue{
		items:   make(chan []byte, size),
		process: process,
		userID:  userID,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}

	go q.run()

	return q
}

// Enqueue adds an utterance without blocking. It returns ErrCallBusy when the
// queue is full and ErrSessionClosed after Close.
func (q *TurnQueue) Enqueue(audio []byte) error {
	if q.ctx.Err() != nil {
		return ErrSessionClosed
	}

	select {
	case q.items <- audio:
		q.logger.Debug("Utterance queued",
			"user_id", q.userID,
			"bytes", len(audio),
			"queue_len", len(q.items),
		)
		return nil
	default:
		q.logger.Warn("Turn queue full, dropping utterance",
			"user_id", q.userID,
			"queue_len", len(q.items),
		)
		return ErrCallBusy
	}
}

func (q *TurnQueue) run() {
	defer close(q.done)

	for {
		select {
		case <-q.ctx.Done():
			return

		case audio := <-q.items:
			// Close may race with a ready item; never start a turn after it.
			if q.ctx.Err() != nil {
				return
			}

			start := time.Now()
			q.process(q.ctx, audio)

			if d := time.Since(start); d > slowTurnThreshold {
				q.logger.Warn("Slow turn",
					"user_id", q.userID,
					"duration_ms", d.Milliseconds(),
				)
			}
		}
	}
}

// Close stops the worker and discards queued utterances. It does not wait
// for an in-flight turn, so it is safe to call from inside process.
func (q *TurnQueue) Close() {
	q.once.Do(func() {
		q.cancel()

		drained := 0
		for {
			select {
			case <-q.items:
				drained++
			default:
				if drained > 0 {
					q.logger.Debug("Discarded queued utterances",
						"user_id", q.userID,
						"count", drained,
					)
				}
				return
			}
		}
	})
}

// Wait blocks until the worker has exited or timeout elapses.
func (q *TurnQueue) Wait(timeout time.Duration) bool {
	select {
	case <-q.done:
		return true
	default:
	}
	select {
	case <-q.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Len returns the number of utterances waiting behind the current turn.
func (q *TurnQueue) Len() int {
	return len(q.items)
}

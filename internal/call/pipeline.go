package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/callrelay/internal/agent"
	"github.com/ashureev/callrelay/internal/domain"
	"github.com/ashureev/callrelay/internal/speech"
)

// Stage names one black-box call in a turn.
type Stage int

const (
	StageTranscribe Stage = iota
	StageGenerate
	StageSynthesize
)

func (s Stage) String() string {
	switch s {
	case StageTranscribe:
		return "transcribe"
	case StageGenerate:
		return "generate"
	case StageSynthesize:
		return "synthesize"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Outcome is the result class of a single stage.
type Outcome int

const (
	// OutcomeNotRun marks a stage the turn never reached.
	OutcomeNotRun Outcome = iota
	OutcomeOK
	// OutcomeEmpty means the backend succeeded but produced nothing usable.
	OutcomeEmpty
	// OutcomeFailed covers backend errors and timeouts.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotRun:
		return "not_run"
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// StageResult records how one stage ended.
type StageResult struct {
	Stage    Stage
	Outcome  Outcome
	Err      error
	Duration time.Duration
	TimedOut bool
}

// Timeouts bound each black-box call.
type Timeouts struct {
	Transcribe time.Duration
	Generate   time.Duration
	Synthesize time.Duration
}

// DefaultTimeouts returns the stage bounds used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Transcribe: 30 * time.Second,
		Generate:   30 * time.Second,
		Synthesize: 30 * time.Second,
	}
}

// PipelineConfig wires the three backends a turn runs through.
type PipelineConfig struct {
	Transcriber   speech.Transcriber
	Responder     agent.Responder
	Synthesizer   speech.Synthesizer
	Timeouts      Timeouts
	FallbackReply string
}

// Pipeline runs the stages of a turn. It holds no per-call state and is
// shared by every session.
type Pipeline struct {
	transcriber speech.Transcriber
	responder   agent.Responder
	synthesizer speech.Synthesizer
	timeouts    Timeouts
	fallback    string
}

// NewPipeline creates a pipeline. Zero timeouts take DefaultTimeouts.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Transcriber == nil || cfg.Responder == nil || cfg.Synthesizer == nil {
		return nil, errors.New("pipeline requires a transcriber, responder and synthesizer")
	}
	defaults := DefaultTimeouts()
	if cfg.Timeouts.Transcribe <= 0 {
		cfg.Timeouts.Transcribe = defaults.Transcribe
	}
	if cfg.Timeouts.Generate <= 0 {
		cfg.Timeouts.Generate = defaults.Generate
	}
	if cfg.Timeouts.Synthesize <= 0 {
		cfg.Timeouts.Synthesize = defaults.Synthesize
	}
	if strings.TrimSpace(cfg.FallbackReply) == "" {
		cfg.FallbackReply = agent.DefaultFallbackReply
	}
	return &Pipeline{
		transcriber: cfg.Transcriber,
		responder:   cfg.Responder,
		synthesizer: cfg.Synthesizer,
		timeouts:    cfg.Timeouts,
		fallback:    cfg.FallbackReply,
	}, nil
}

// FallbackReply is the text spoken when generation fails.
func (p *Pipeline) FallbackReply() string {
	return p.fallback
}

func (p *Pipeline) transcribe(ctx context.Context, audio []byte) (string, StageResult) {
	text, res := runStage(ctx, StageTranscribe, p.timeouts.Transcribe, func(ctx context.Context) (string, error) {
		return p.transcriber.Transcribe(ctx, audio)
	})
	text = strings.TrimSpace(text)
	if res.Outcome == OutcomeOK && text == "" {
		res.Outcome = OutcomeEmpty
	}
	return text, res
}

// generate never returns an empty reply: failures yield the fallback text.
func (p *Pipeline) generate(ctx context.Context, userText string, history []domain.Turn) (string, StageResult) {
	reply, res := runStage(ctx, StageGenerate, p.timeouts.Generate, func(ctx context.Context) (string, error) {
		return p.responder.Generate(ctx, userText, history)
	})
	reply = strings.TrimSpace(reply)
	if res.Outcome == OutcomeOK && reply == "" {
		res.Outcome = OutcomeEmpty
	}
	if res.Outcome != OutcomeOK {
		return p.fallback, res
	}
	return reply, res
}

func (p *Pipeline) synthesize(ctx context.Context, text string) ([]byte, StageResult) {
	audio, res := runStage(ctx, StageSynthesize, p.timeouts.Synthesize, func(ctx context.Context) ([]byte, error) {
		return p.synthesizer.Synthesize(ctx, text)
	})
	if res.Outcome == OutcomeOK && len(audio) == 0 {
		res.Outcome = OutcomeEmpty
	}
	if res.Outcome != OutcomeOK {
		return nil, res
	}
	return audio, res
}

type stageValue[T any] struct {
	v   T
	err error
}

// runStage bounds fn by timeout. A backend that ignores its context is
// abandoned once the deadline passes; its late result is discarded.
func runStage[T any](ctx context.Context, stage Stage, timeout time.Duration, fn func(context.Context) (T, error)) (T, StageResult) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan stageValue[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageValue[T]{err: fmt.Errorf("%s panicked: %v", stage, r)}
			}
		}()
		v, err := fn(stageCtx)
		done <- stageValue[T]{v: v, err: err}
	}()

	var out stageValue[T]
	select {
	case out = <-done:
	case <-stageCtx.Done():
		out.err = stageCtx.Err()
	}

	res := StageResult{Stage: stage, Outcome: OutcomeOK, Duration: time.Since(start)}
	if out.err != nil {
		var zero T
		res.Outcome = OutcomeFailed
		res.Err = out.err
		res.TimedOut = errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		return zero, res
	}
	return out.v, res
}

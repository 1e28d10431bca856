// Package speech provides the speech-to-text and text-to-speech capabilities
// consumed by call sessions. Each capability is a single interface with
// interchangeable backends chosen when the process starts.
package speech

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a synthesizer produced an empty buffer.
var ErrNoAudio = errors.New("speech: synthesizer returned no audio")

// Transcriber converts one complete utterance into text.
// An empty string with a nil error means nothing intelligible was said.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TranscribeFunc is an adapter to allow the use of ordinary functions as
// Transcribers.
type TranscribeFunc func(ctx context.Context, audio []byte) (string, error)

// Transcribe calls f(ctx, audio).
func (f TranscribeFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

// Synthesizer converts reply text into a finite audio buffer.
// Implementations return ErrNoAudio rather than an empty buffer.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesizeFunc is an adapter to allow the use of ordinary functions as
// Synthesizers.
type SynthesizeFunc func(ctx context.Context, text string) ([]byte, error)

// Synthesize calls f(ctx, text).
func (f SynthesizeFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

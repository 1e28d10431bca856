// Package agent implements the reply generators a call consults on every turn.
package agent

import (
	"context"
	"errors"

	"github.com/ashureev/callrelay/internal/domain"
)

var errEmptyReply = errors.New("agent: backend returned an empty reply")

// Responder turns the caller's latest utterance plus the prior turns of the
// call into a reply. History excludes userText and may be empty.
type Responder interface {
	Generate(ctx context.Context, userText string, history []domain.Turn) (string, error)
}

// ResponderFunc is an adapter to allow the use of ordinary functions as
// Responders.
type ResponderFunc func(ctx context.Context, userText string, history []domain.Turn) (string, error)

// Generate calls f(ctx, userText, history).
func (f ResponderFunc) Generate(ctx context.Context, userText string, history []domain.Turn) (string, error) {
	return f(ctx, userText, history)
}

type callerKey struct{}

// ContextWithCaller attaches the caller identity so remote backends can key
// their own state on it.
func ContextWithCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, callerKey{}, identity)
}

// CallerFromContext returns the identity set by ContextWithCaller.
func CallerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}

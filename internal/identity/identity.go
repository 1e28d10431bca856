// Package identity resolves the caller identity a call is registered under.
// Authentication happens upstream; this package only names the caller.
package identity

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	CallerHeaderName = "X-Caller-ID"
	CallerQueryParam = "user_id"
)

type contextKey int

const userIDKey contextKey = iota

var callerIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// ErrInvalidCallerID is returned for identities outside the allowed alphabet.
var ErrInvalidCallerID = errors.New("invalid caller id")

// UserIDFromContext extracts the caller ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Valid reports whether id is an acceptable caller identity.
func Valid(id string) bool {
	return callerIDPattern.MatchString(id)
}

// FromRequest returns the caller named by the X-Caller-ID header or the
// user_id query parameter, falling back to defaultID when neither is set.
func FromRequest(r *http.Request, defaultID string) (string, error) {
	id := strings.TrimSpace(r.Header.Get(CallerHeaderName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get(CallerQueryParam))
	}
	if id == "" {
		return defaultID, nil
	}
	if !Valid(id) {
		return "", ErrInvalidCallerID
	}
	return id, nil
}

// Middleware resolves the caller identity and stores it in the request context.
func Middleware(defaultID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := FromRequest(r, defaultID)
			if err != nil {
				http.Error(w, `{"error":"invalid caller id"}`, http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr bool
	}{
		{name: "default", want: "default"},
		{name: "header", header: "alice", want: "alice"},
		{name: "query", query: "bob@example.com", want: "bob@example.com"},
		{name: "header wins", header: "alice", query: "bob", want: "alice"},
		{name: "trimmed", header: "  carol  ", want: "carol"},
		{name: "invalid", query: "bad id!", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/call/connect", nil)
			if tt.query != "" {
				q := r.URL.Query()
				q.Set(CallerQueryParam, tt.query)
				r.URL.RawQuery = q.Encode()
			}
			if tt.header != "" {
				r.Header.Set(CallerHeaderName, tt.header)
			}

			got, err := FromRequest(r, "default")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromRequest() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware("default")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(CallerHeaderName, "alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen != "alice" {
		t.Errorf("Expected alice in context, got %q", seen)
	}

	r = httptest.NewRequest(http.MethodGet, "/?user_id=%3Cscript%3E", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid id, got %d", w.Code)
	}
}

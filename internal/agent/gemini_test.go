package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/callrelay/internal/domain"
)

func TestGeminiResponder_SkipsThoughtParts(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"text":"planning the answer","thought":true},
			{"text":" Sure, "},
			{"text":"tomorrow works. "}
		]}}]}`)
	}))
	defer srv.Close()

	r, err := NewGeminiResponder(context.Background(), GeminiConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "models/gemini-2.5-flash",
		Persona: DefaultPersona(),
	})
	require.NoError(t, err)

	reply, err := r.Generate(context.Background(), "can we meet tomorrow?", []domain.Turn{
		domain.UserTurn("hi"),
		domain.AssistantTurn("hello!"),
	})
	require.NoError(t, err)
	require.Equal(t, "Sure, tomorrow works.", reply)
	require.True(t, strings.HasSuffix(gotPath, "gemini-2.5-flash:generateContent"), "path=%s", gotPath)

	contents, ok := gotBody["contents"].([]any)
	require.True(t, ok)
	require.Len(t, contents, 3)
	require.Equal(t, "model", contents[1].(map[string]any)["role"])
	require.Contains(t, gotBody, "systemInstruction")
}

func TestGeminiContents_MapsRoles(t *testing.T) {
	contents := geminiContents("bye", []domain.Turn{
		domain.UserTurn("hi"),
		domain.AssistantTurn("hello"),
	})
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "user", contents[2].Role)
	require.Equal(t, "bye", contents[2].Parts[0].Text)
}

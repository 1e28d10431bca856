package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/callrelay/internal/domain"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxCompletionTokens int `json:"max_completion_tokens"`
}

func chatServer(t *testing.T, reply string, got *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if got != nil {
			require.NoError(t, json.Unmarshal(body, got))
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIResponder_SendsPersonaAndHistory(t *testing.T) {
	var got chatRequest
	srv := chatServer(t, "  Hi! I'm doing great.  ", &got)

	r, err := NewOpenAIResponder(OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
		Model:   "gpt-4o-mini",
		Persona: DefaultPersona(),
	})
	require.NoError(t, err)

	history := []domain.Turn{
		domain.UserTurn("hello"),
		domain.AssistantTurn("Hey there!"),
	}
	reply, err := r.Generate(context.Background(), "how are you?", history)
	require.NoError(t, err)
	require.Equal(t, "Hi! I'm doing great.", reply)

	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Equal(t, 150, got.MaxCompletionTokens)
	require.Len(t, got.Messages, 4)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "user", got.Messages[1].Role)
	require.Equal(t, "hello", got.Messages[1].Content)
	require.Equal(t, "assistant", got.Messages[2].Role)
	require.Equal(t, "user", got.Messages[3].Role)
	require.Equal(t, "how are you?", got.Messages[3].Content)
}

func TestOpenAIResponder_EmptyReplyIsError(t *testing.T) {
	srv := chatServer(t, "   ", nil)

	r, err := NewOpenAIResponder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "hi", nil)
	require.ErrorIs(t, err, errEmptyReply)
}

func TestOpenAIResponder_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	r, err := NewOpenAIResponder(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "m"})
	require.NoError(t, err)

	_, err = r.Generate(context.Background(), "hi", nil)
	require.Error(t, err)
}

func TestNewOpenAIResponder_RequiresModel(t *testing.T) {
	_, err := NewOpenAIResponder(OpenAIConfig{APIKey: "sk-test"})
	require.Error(t, err)
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/ashureev/callrelay/internal/domain"
)

var _ Responder = (*OpenAIResponder)(nil)

// OpenAIConfig configures a chat-completions backend.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Persona    Persona
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// OpenAIResponder generates replies with an OpenAI-compatible chat completions API.
type OpenAIResponder struct {
	client  openai.Client
	model   string
	persona Persona
	logger  *slog.Logger
}

// NewOpenAIResponder creates a responder backed by chat completions.
func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai responder: model must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAIResponder{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		persona: cfg.Persona,
		logger:  cfg.Logger,
	}, nil
}

// Generate sends the persona prompt, prior turns and the new utterance.
func (r *OpenAIResponder) Generate(ctx context.Context, userText string, history []domain.Turn) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    r.model,
		Messages: r.buildMessages(userText, history),
	}
	if r.persona.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(r.persona.MaxTokens))
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("openai chat: refused: %s", choice.Message.Refusal)
	}

	reply := strings.TrimSpace(choice.Message.Content)
	if reply == "" {
		return "", errEmptyReply
	}
	r.logger.Debug("Reply generated", "model", r.model, "history_len", len(history), "reply_length", len(reply))
	return reply, nil
}

func (r *OpenAIResponder) buildMessages(userText string, history []domain.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if r.persona.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(r.persona.SystemPrompt))
	}
	for _, turn := range history {
		switch turn.Role {
		case domain.RoleUser:
			msgs = append(msgs, openai.UserMessage(turn.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(turn.Content))
		}
	}
	return append(msgs, openai.UserMessage(userText))
}

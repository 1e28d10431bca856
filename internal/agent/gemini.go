package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/callrelay/internal/domain"
)

var _ Responder = (*GeminiResponder)(nil)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Persona Persona
	Logger  *slog.Logger
}

// GeminiResponder generates replies with the Gemini API.
type GeminiResponder struct {
	client  *genai.Client
	model   string
	persona Persona
	logger  *slog.Logger
}

// NewGeminiResponder creates a responder backed by Gemini.
func NewGeminiResponder(ctx context.Context, cfg GeminiConfig) (*GeminiResponder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini responder: model must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiResponder{
		client:  client,
		model:   strings.TrimPrefix(cfg.Model, "models/"),
		persona: cfg.Persona,
		logger:  cfg.Logger,
	}, nil
}

// Generate sends the prior turns and the new utterance as a single request.
func (r *GeminiResponder) Generate(ctx context.Context, userText string, history []domain.Turn) (string, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model, geminiContents(userText, history), r.generateConfig())
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate: no candidates")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", errEmptyReply
	}
	r.logger.Debug("Reply generated", "model", r.model, "history_len", len(history), "reply_length", len(reply))
	return reply, nil
}

func (r *GeminiResponder) generateConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if r.persona.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(r.persona.SystemPrompt)}}
	}
	if r.persona.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(r.persona.MaxTokens)
	}
	return cfg
}

func geminiContents(userText string, history []domain.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(turn.Content)},
		})
	}
	return append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{genai.NewPartFromText(userText)},
	})
}

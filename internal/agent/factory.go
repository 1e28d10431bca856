package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/callrelay/internal/config"
)

// New builds the Responder selected by cfg.Backend. The returned close
// function releases backend resources and is never nil.
func New(ctx context.Context, cfg config.ResponseConfig, persona Persona, logger *slog.Logger) (Responder, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case "openai":
		r, err := NewOpenAIResponder(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Persona: persona,
			Logger:  logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	case "gemini":
		r, err := NewGeminiResponder(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Persona: persona,
			Logger:  logger,
		})
		if err != nil {
			return nil, noop, err
		}
		return r, noop, nil
	case "grpc":
		grpcCfg := DefaultGrpcClientConfig()
		grpcCfg.Address = cfg.GrpcAddr
		c, err := NewGrpcClient(grpcCfg, logger)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown responder backend %q", cfg.Backend)
	}
}

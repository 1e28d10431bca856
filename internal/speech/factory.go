package speech

import (
	"fmt"
	"log/slog"

	"github.com/ashureev/callrelay/internal/config"
)

// NewTranscriber builds the Transcriber selected by cfg.Backend.
func NewTranscriber(cfg config.TranscriptionConfig, logger *slog.Logger) (Transcriber, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAITranscriber(OpenAIConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Logger:   logger,
		}), nil
	case "command":
		return NewCommandTranscriber(CommandConfig{
			CommandLine: cfg.Command,
			Language:    cfg.Language,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
	}
}

// NewSynthesizer builds the Synthesizer selected by cfg.Backend.
func NewSynthesizer(cfg config.SynthesisConfig, logger *slog.Logger) (Synthesizer, error) {
	switch cfg.Backend {
	case "openai":
		return NewOpenAISynthesizer(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Voice:   cfg.Voice,
			Logger:  logger,
		}), nil
	case "command":
		return NewCommandSynthesizer(CommandConfig{
			CommandLine: cfg.Command,
			Voice:       cfg.Voice,
			Model:       cfg.Model,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("unknown synthesis backend %q", cfg.Backend)
	}
}

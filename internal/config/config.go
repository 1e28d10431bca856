// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	AllowedOrigin   string
	DBPath          string
	LedgerEnabled   bool
	LogLevel        slog.Level
	DefaultCallerID string
	LedgerRetention time.Duration
	Call            CallConfig
	Transcription   TranscriptionConfig
	Response        ResponseConfig
	Synthesis       SynthesisConfig
}

// CallConfig controls per-call limits.
type CallConfig struct {
	IdleTimeout   time.Duration
	QueueSize     int
	MaxFrameBytes int64
	WriteTimeout  time.Duration
}

// TranscriptionConfig selects and configures the speech-to-text backend.
type TranscriptionConfig struct {
	Backend  string // "openai" or "command"
	Command  string
	Model    string
	Language string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// ResponseConfig selects and configures the reply generator.
type ResponseConfig struct {
	Backend      string // "openai", "gemini" or "grpc"
	Model        string
	BaseURL      string
	APIKey       string
	GeminiAPIKey string
	GrpcAddr     string
	PersonaFile  string
	Timeout      time.Duration
}

// SynthesisConfig selects and configures the text-to-speech backend.
type SynthesisConfig struct {
	Backend string // "openai" or "command"
	Command string
	Voice   string
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CALL_QUEUE_SIZE", 8)
	if queueSize <= 0 {
		queueSize = 8
	}

	openAIKey := getEnv("OPENAI_API_KEY", "")

	llmBackend := strings.ToLower(getEnv("LLM_BACKEND", "openai"))
	llmModel := "gpt-4o-mini"
	if llmBackend == "gemini" {
		llmModel = "gemini-2.5-flash"
	}

	ttsBackend := strings.ToLower(getEnv("TTS_BACKEND", "openai"))
	ttsVoice, ttsModel := "alloy", "tts-1"
	if ttsBackend == "command" {
		ttsVoice, ttsModel = "Jessica", "eleven_multilingual_v2"
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "*"),
		DBPath:          getEnv("DB_PATH", "./data/calls.db"),
		LedgerEnabled:   getEnvBool("LEDGER_ENABLED", true),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		DefaultCallerID: getEnv("DEFAULT_CALLER_ID", "default"),
		LedgerRetention: getEnvDuration("LEDGER_RETENTION", 30*24*time.Hour),
		Call: CallConfig{
			IdleTimeout:   getEnvDuration("CALL_IDLE_TIMEOUT", 10*time.Minute),
			QueueSize:     queueSize,
			MaxFrameBytes: int64(getEnvInt("MAX_FRAME_BYTES", 10<<20)),
			WriteTimeout:  getEnvDuration("WRITE_TIMEOUT", 10*time.Second),
		},
		Transcription: TranscriptionConfig{
			Backend:  strings.ToLower(getEnv("STT_BACKEND", "openai")),
			Command:  getEnv("STT_COMMAND", ""),
			Model:    getEnv("STT_MODEL", "whisper-1"),
			Language: getEnv("STT_LANGUAGE", "en"),
			APIKey:   openAIKey,
			BaseURL:  getEnv("OPENAI_BASE_URL", ""),
			Timeout:  getEnvDuration("TRANSCRIBE_TIMEOUT", 30*time.Second),
		},
		Response: ResponseConfig{
			Backend:      llmBackend,
			Model:        getEnv("LLM_MODEL", llmModel),
			BaseURL:      getEnv("LLM_BASE_URL", getEnv("OPENAI_BASE_URL", "")),
			APIKey:       getEnv("LLM_API_KEY", openAIKey),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GrpcAddr:     getEnv("AGENT_GRPC_ADDR", ""),
			PersonaFile:  getEnv("PERSONA_FILE", ""),
			Timeout:      getEnvDuration("GENERATE_TIMEOUT", 30*time.Second),
		},
		Synthesis: SynthesisConfig{
			Backend: ttsBackend,
			Command: getEnv("TTS_COMMAND", ""),
			Voice:   getEnv("TTS_VOICE", ttsVoice),
			Model:   getEnv("TTS_MODEL", ttsModel),
			APIKey:  openAIKey,
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Timeout: getEnvDuration("SYNTHESIZE_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Each backend contributes its own required-field branch.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.LedgerEnabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DefaultCallerID == "" {
		return fmt.Errorf("DEFAULT_CALLER_ID cannot be empty")
	}
	if c.Call.QueueSize <= 0 {
		return fmt.Errorf("CALL_QUEUE_SIZE must be > 0")
	}
	if c.Call.MaxFrameBytes <= 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be > 0")
	}
	if c.Call.IdleTimeout <= 0 {
		return fmt.Errorf("CALL_IDLE_TIMEOUT must be > 0")
	}
	for name, d := range map[string]time.Duration{
		"WRITE_TIMEOUT":      c.Call.WriteTimeout,
		"TRANSCRIBE_TIMEOUT": c.Transcription.Timeout,
		"GENERATE_TIMEOUT":   c.Response.Timeout,
		"SYNTHESIZE_TIMEOUT": c.Synthesis.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}

	switch c.Transcription.Backend {
	case "openai":
		if c.Transcription.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for STT_BACKEND=openai")
		}
	case "command":
		if c.Transcription.Command == "" {
			return fmt.Errorf("STT_COMMAND is required for STT_BACKEND=command")
		}
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.Transcription.Backend)
	}

	switch c.Response.Backend {
	case "openai":
		if c.Response.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY or OPENAI_API_KEY is required for LLM_BACKEND=openai")
		}
	case "gemini":
		if c.Response.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for LLM_BACKEND=gemini")
		}
	case "grpc":
		if c.Response.GrpcAddr == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR is required for LLM_BACKEND=grpc")
		}
	default:
		return fmt.Errorf("unknown LLM_BACKEND %q", c.Response.Backend)
	}

	switch c.Synthesis.Backend {
	case "openai":
		if c.Synthesis.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for TTS_BACKEND=openai")
		}
	case "command":
		if c.Synthesis.Command == "" {
			return fmt.Errorf("TTS_COMMAND is required for TTS_BACKEND=command")
		}
	default:
		return fmt.Errorf("unknown TTS_BACKEND %q", c.Synthesis.Backend)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

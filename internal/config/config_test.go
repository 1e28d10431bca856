package config

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "FRONTEND_URL", "ALLOWED_ORIGIN", "DB_PATH", "LOG_LEVEL",
		"DEFAULT_CALLER_ID", "LEDGER_RETENTION", "CALL_IDLE_TIMEOUT", "CALL_QUEUE_SIZE",
		"MAX_FRAME_BYTES", "WRITE_TIMEOUT", "STT_BACKEND", "STT_COMMAND", "STT_MODEL",
		"STT_LANGUAGE", "OPENAI_BASE_URL", "TRANSCRIBE_TIMEOUT", "LLM_BACKEND", "LLM_MODEL",
		"LLM_BASE_URL", "LLM_API_KEY", "GEMINI_API_KEY", "AGENT_GRPC_ADDR", "PERSONA_FILE",
		"GENERATE_TIMEOUT", "TTS_BACKEND", "TTS_COMMAND", "TTS_VOICE", "TTS_MODEL",
		"SYNTHESIZE_TIMEOUT", "LEDGER_ENABLED",
	} {
		t.Setenv(key, "")
		unsetEnv(t, key)
	}
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

// unsetEnv clears key for the test; the preceding t.Setenv restores it.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("Expected port 8000, got %q", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level, got %v", cfg.LogLevel)
	}
	if cfg.Call.QueueSize != 8 {
		t.Errorf("Expected queue size 8, got %d", cfg.Call.QueueSize)
	}
	if cfg.Call.IdleTimeout != 10*time.Minute {
		t.Errorf("Expected idle timeout 10m, got %v", cfg.Call.IdleTimeout)
	}
	if cfg.Response.APIKey != "sk-test" {
		t.Errorf("Expected LLM key to fall back to OPENAI_API_KEY, got %q", cfg.Response.APIKey)
	}
	if cfg.Synthesis.Voice != "alloy" || cfg.Synthesis.Model != "tts-1" {
		t.Errorf("Unexpected openai TTS defaults: %q %q", cfg.Synthesis.Voice, cfg.Synthesis.Model)
	}
	if !cfg.LedgerEnabled {
		t.Error("Expected ledger enabled by default")
	}
	if !cfg.IsDevelopment() {
		t.Error("Expected development mode without FRONTEND_URL")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CALL_QUEUE_SIZE", "3")
	t.Setenv("CALL_IDLE_TIMEOUT", "45s")
	t.Setenv("FRONTEND_URL", "https://calls.example.com")
	t.Setenv("TTS_BACKEND", "command")
	t.Setenv("TTS_COMMAND", "/usr/local/bin/tts")
	t.Setenv("LEDGER_ENABLED", "false")
	t.Setenv("DB_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.Call.QueueSize != 3 {
		t.Errorf("Expected queue size 3, got %d", cfg.Call.QueueSize)
	}
	if cfg.Call.IdleTimeout != 45*time.Second {
		t.Errorf("Expected idle timeout 45s, got %v", cfg.Call.IdleTimeout)
	}
	if cfg.Synthesis.Voice != "Jessica" || cfg.Synthesis.Model != "eleven_multilingual_v2" {
		t.Errorf("Unexpected command TTS defaults: %q %q", cfg.Synthesis.Voice, cfg.Synthesis.Model)
	}
	if cfg.LedgerEnabled {
		t.Error("Expected ledger disabled")
	}
	if cfg.IsDevelopment() {
		t.Error("Expected production mode for public FRONTEND_URL")
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CALL_QUEUE_SIZE", "-1")
	t.Setenv("WRITE_TIMEOUT", "soon")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("LEDGER_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Call.QueueSize != 8 {
		t.Errorf("Expected queue size fallback 8, got %d", cfg.Call.QueueSize)
	}
	if cfg.Call.WriteTimeout != 10*time.Second {
		t.Errorf("Expected write timeout fallback 10s, got %v", cfg.Call.WriteTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Expected info level fallback, got %v", cfg.LogLevel)
	}
	if !cfg.LedgerEnabled {
		t.Error("Expected ledger flag fallback true")
	}
}

func TestLoad_BackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing openai key",
			env:     map[string]string{"OPENAI_API_KEY": ""},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "command stt without command",
			env:     map[string]string{"STT_BACKEND": "command"},
			wantErr: "STT_COMMAND",
		},
		{
			name:    "gemini without key",
			env:     map[string]string{"LLM_BACKEND": "gemini"},
			wantErr: "GEMINI_API_KEY",
		},
		{
			name:    "grpc without address",
			env:     map[string]string{"LLM_BACKEND": "grpc"},
			wantErr: "AGENT_GRPC_ADDR",
		},
		{
			name:    "unknown tts backend",
			env:     map[string]string{"TTS_BACKEND": "carrier-pigeon"},
			wantErr: "TTS_BACKEND",
		},
		{
			name:    "empty port",
			env:     map[string]string{"PORT": ""},
			wantErr: "PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

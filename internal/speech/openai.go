package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	_ Transcriber = (*OpenAITranscriber)(nil)
	_ Synthesizer = (*OpenAISynthesizer)(nil)
)

// OpenAIConfig configures an OpenAI-compatible audio endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string // transcription only
	Voice      string // synthesis only
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func newOpenAIClient(cfg OpenAIConfig) openai.Client {
	// Retries are disabled: a failed stage falls back instead of being repeated.
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
	return openai.NewClient(opts...)
}

// OpenAITranscriber transcribes utterances with the audio transcriptions API.
type OpenAITranscriber struct {
	client   openai.Client
	model    string
	language string
	logger   *slog.Logger
}

// NewOpenAITranscriber creates a transcriber backed by an OpenAI-compatible API.
func NewOpenAITranscriber(cfg OpenAIConfig) *OpenAITranscriber {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}
	return &OpenAITranscriber{
		client:   newOpenAIClient(cfg),
		model:    cfg.Model,
		language: cfg.Language,
		logger:   cfg.Logger,
	}
}

// Transcribe uploads the utterance as a WAV file and returns the trimmed text.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("Transcription complete", "model", t.model, "audio_bytes", len(audio), "text_length", len(text))
	return text, nil
}

// OpenAISynthesizer renders replies with the audio speech API as MP3.
type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
	logger *slog.Logger
}

// NewOpenAISynthesizer creates a synthesizer backed by an OpenAI-compatible API.
func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SpeechModelTTS1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	}
	return &OpenAISynthesizer{
		client: newOpenAIClient(cfg),
		model:  cfg.Model,
		voice:  cfg.Voice,
		logger: cfg.Logger,
	}
}

// Synthesize returns the MP3 bytes for text.
func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("Failed to close speech response body", "error", closeErr)
		}
	}()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech body: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	return audio, nil
}

package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	_ Transcriber = (*CommandTranscriber)(nil)
	_ Synthesizer = (*CommandSynthesizer)(nil)
)

var errEmptyCommand = errors.New("speech: command line is empty")

// maxStderrLog caps how much engine stderr is copied into errors.
const maxStderrLog = 512

// CommandTranscriber runs a local speech-to-text engine. The utterance is
// written to a temporary .wav file whose path is appended to the command line;
// the engine prints the transcript on stdout.
type CommandTranscriber struct {
	name     string
	args     []string
	language string
	tempDir  string
	logger   *slog.Logger
}

// CommandConfig configures a script-backed speech engine.
type CommandConfig struct {
	// CommandLine is split on whitespace; the first field is the executable.
	CommandLine string
	Language    string // transcription only, passed as --language
	Voice       string // synthesis only, passed as -v
	Model       string // synthesis only, passed as --model-id
	TempDir     string
	Logger      *slog.Logger
}

func splitCommandLine(line string) (string, []string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, errEmptyCommand
	}
	if strings.HasPrefix(fields[0], "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			fields[0] = home + fields[0][1:]
		}
	}
	return fields[0], fields[1:], nil
}

// NewCommandTranscriber creates a transcriber that shells out to a local engine.
func NewCommandTranscriber(cfg CommandConfig) (*CommandTranscriber, error) {
	name, args, err := splitCommandLine(cfg.CommandLine)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("transcription engine %q not found: %w", name, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CommandTranscriber{
		name:     name,
		args:     args,
		language: cfg.Language,
		tempDir:  cfg.TempDir,
		logger:   cfg.Logger,
	}, nil
}

// Transcribe runs the engine on the utterance and returns its trimmed stdout.
func (t *CommandTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	path, cleanup, err := writeTemp(t.tempDir, "utterance-*.wav", audio)
	if err != nil {
		return "", err
	}
	defer cleanup()

	args := append([]string{}, t.args...)
	if t.language != "" {
		args = append(args, "--language", t.language)
	}
	args = append(args, path)

	stdout, err := runCommand(ctx, t.name, args)
	if err != nil {
		return "", fmt.Errorf("transcription engine: %w", err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// CommandSynthesizer runs a TTS script of the form
// `<script> -v <voice> --model-id <model> -o <out.mp3> -- <text>`.
type CommandSynthesizer struct {
	name    string
	args    []string
	voice   string
	model   string
	tempDir string
	logger  *slog.Logger
}

// NewCommandSynthesizer creates a synthesizer that shells out to a TTS script.
func NewCommandSynthesizer(cfg CommandConfig) (*CommandSynthesizer, error) {
	name, args, err := splitCommandLine(cfg.CommandLine)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("tts script %q not found: %w", name, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CommandSynthesizer{
		name:    name,
		args:    args,
		voice:   cfg.Voice,
		model:   cfg.Model,
		tempDir: cfg.TempDir,
		logger:  cfg.Logger,
	}, nil
}

// Synthesize runs the script and returns the audio file it produced.
func (s *CommandSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	out, cleanup, err := writeTemp(s.tempDir, "reply-*.mp3", nil)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	args := append([]string{}, s.args...)
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	if s.model != "" {
		args = append(args, "--model-id", s.model)
	}
	// "--" ends option parsing so a reply such as "-5 degrees" stays text.
	args = append(args, "-o", out, "--", text)

	if _, err := runCommand(ctx, s.name, args); err != nil {
		return nil, fmt.Errorf("tts script: %w", err)
	}

	audio, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read tts output: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	s.logger.Debug("Synthesis complete", "voice", s.voice, "audio_bytes", len(audio))
	return audio, nil
}

func runCommand(ctx context.Context, name string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderrLog {
			msg = msg[len(msg)-maxStderrLog:]
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func writeTemp(dir, pattern string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Debug("Failed to remove temp file", "path", path, "error", err)
		}
	}
	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			cleanup()
			return "", nil, fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}

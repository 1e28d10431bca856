package speech

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestCommandTranscriber_ReadsStdout(t *testing.T) {
	// The last argument is the temp wav path; echo its contents back.
	script := writeScript(t, `for last; do :; done; printf '  %s  ' "$(cat "$last")"`)

	tr, err := NewCommandTranscriber(CommandConfig{CommandLine: script, TempDir: t.TempDir()})
	require.NoError(t, err)

	text, err := tr.Transcribe(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestCommandTranscriber_PassesLanguage(t *testing.T) {
	script := writeScript(t, `echo "$1 $2"`)

	tr, err := NewCommandTranscriber(CommandConfig{CommandLine: script, Language: "en"})
	require.NoError(t, err)

	text, err := tr.Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "--language en", text)
}

func TestCommandTranscriber_FailureIncludesStderr(t *testing.T) {
	script := writeScript(t, `echo "model missing" >&2; exit 3`)

	tr, err := NewCommandTranscriber(CommandConfig{CommandLine: script})
	require.NoError(t, err)

	_, err = tr.Transcribe(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "model missing")
}

func TestCommandTranscriber_RemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, `echo ok`)

	tr, err := NewCommandTranscriber(CommandConfig{CommandLine: script, TempDir: dir})
	require.NoError(t, err)

	_, err = tr.Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestNewCommandTranscriber_MissingEngine(t *testing.T) {
	_, err := NewCommandTranscriber(CommandConfig{CommandLine: "/nonexistent/whisper-engine"})
	require.Error(t, err)

	_, err = NewCommandTranscriber(CommandConfig{CommandLine: "   "})
	require.ErrorIs(t, err, errEmptyCommand)
}

func TestCommandSynthesizer_WritesOutputFile(t *testing.T) {
	// Arguments: -v <voice> --model-id <model> -o <out> -- <text>
	script := writeScript(t, `printf '%s|%s|%s' "$2" "$4" "$8" > "$6"`)

	s, err := NewCommandSynthesizer(CommandConfig{CommandLine: script, Voice: "Jessica", Model: "eleven_multilingual_v2"})
	require.NoError(t, err)

	audio, err := s.Synthesize(context.Background(), "hi there")
	require.NoError(t, err)
	require.Equal(t, "Jessica|eleven_multilingual_v2|hi there", string(audio))
}

func TestCommandSynthesizer_LeadingDashTextIsNotAnOption(t *testing.T) {
	// getopts stops at "--", leaving the reply text as the only operand.
	script := writeScript(t, `while getopts "o:" opt; do
  case "$opt" in
    o) out="$OPTARG" ;;
    *) exit 2 ;;
  esac
done
shift $((OPTIND - 1))
printf '%s' "$1" > "$out"`)

	s, err := NewCommandSynthesizer(CommandConfig{CommandLine: script})
	require.NoError(t, err)

	audio, err := s.Synthesize(context.Background(), "-5 degrees today")
	require.NoError(t, err)
	require.Equal(t, "-5 degrees today", string(audio))
}

func TestCommandSynthesizer_EmptyOutputIsFailure(t *testing.T) {
	script := writeScript(t, `exit 0`)

	s, err := NewCommandSynthesizer(CommandConfig{CommandLine: script})
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoAudio)
}

func TestCommandSynthesizer_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)

	s, err := NewCommandSynthesizer(CommandConfig{CommandLine: script})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.Synthesize(ctx, "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 4*time.Second)
}

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestGenerateRunIDShape(t *testing.T) {
	runID := GenerateRunID()
	require.True(t, strings.HasPrefix(runID, "codex_"), "got %s", runID)
	parts := strings.Split(runID, "_")
	require.Len(t, parts, 3)
	require.Len(t, parts[1], 8) // YYYYMMDD
	require.Len(t, parts[2], 8)
	require.NotEqual(t, runID, GenerateRunID())
}

func TestResolvePrompt(t *testing.T) {
	prompt, err := ResolvePrompt("implement the thing")
	require.NoError(t, err)
	require.Equal(t, "implement the thing", prompt)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("file prompt content"), 0o644))
	prompt, err = ResolvePrompt("@" + path)
	require.NoError(t, err)
	require.Equal(t, "file prompt content", prompt)

	_, err = ResolvePrompt("@/nonexistent/prompt.txt")
	require.Error(t, err)
}

func TestTruncateOutput(t *testing.T) {
	require.Equal(t, "short", TruncateOutput("short", 100))

	long := strings.Repeat("x", 100)
	truncated := TruncateOutput(long, 50)
	require.True(t, strings.HasSuffix(truncated, "... [output truncated]"))
	require.True(t, len(truncated) < len(long)+25)

	// Truncation never splits a UTF-8 rune.
	multibyte := strings.Repeat("é", 30)
	truncated = TruncateOutput(multibyte, 31)
	require.True(t, strings.HasSuffix(truncated, "... [output truncated]"))
	prefix := strings.TrimSuffix(truncated, "\n... [output truncated]")
	require.True(t, utf8.ValidString(prefix))
	require.True(t, len(prefix) <= 31)
}

func TestRunCodexTimeoutReports124(t *testing.T) {
	// A stand-in binary that ignores the codex arguments and outlives the
	// timeout.
	slow := filepath.Join(t.TempDir(), "slow-codex")
	require.NoError(t, os.WriteFile(slow, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))

	result, err := RunCodex(context.Background(), CodexRequest{
		Binary:  slow,
		Model:   "gpt-5.3-codex",
		Prompt:  "",
		Cwd:     t.TempDir(),
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, "timed_out", result.Status)
	require.Equal(t, 124, result.ExitCode)
	require.Contains(t, result.Stderr, "timed out")
}

func TestRunCodexMissingBinary(t *testing.T) {
	_, err := RunCodex(context.Background(), CodexRequest{
		Binary:  "definitely-not-a-real-binary-xyz",
		Model:   "gpt-5.3-codex",
		Prompt:  "hello",
		Cwd:     t.TempDir(),
		Timeout: time.Second,
	})
	require.Error(t, err)
}

func TestLookupRoundTrip(t *testing.T) {
	// Redirect HOME so lookup files land in a temp dir.
	t.Setenv("HOME", t.TempDir())

	lookup := &Lookup{
		Feature:   "auth-flow",
		Cwd:       "/work/.worktrees/auth-flow",
		Branch:    "tina/auth-flow",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, SaveLookup(lookup))

	loaded, err := LoadLookup("auth-flow")
	require.NoError(t, err)
	require.Equal(t, lookup.Cwd, loaded.Cwd)
	require.Equal(t, lookup.Branch, loaded.Branch)

	lookups, err := ListLookups()
	require.NoError(t, err)
	require.Len(t, lookups, 1)

	require.NoError(t, RemoveLookup("auth-flow"))
	_, err = LoadLookup("auth-flow")
	require.Error(t, err)

	// Removing twice is fine.
	require.NoError(t, RemoveLookup("auth-flow"))
}

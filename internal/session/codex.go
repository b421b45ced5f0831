package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Exit code reported when the codex subprocess exceeds its timeout,
// matching the shell convention for killed-by-timeout.
const codexTimeoutExitCode = 124

const maxCapturedOutputBytes = 64 * 1024

// CodexRequest describes one external code-generation run.
type CodexRequest struct {
	Binary  string
	Model   string
	Sandbox string
	Prompt  string
	Cwd     string
	Timeout time.Duration
}

// CodexResult is the outcome of a codex run.
type CodexResult struct {
	RunID        string
	Status       string // completed | failed | timed_out
	ExitCode     int
	Stdout       string
	Stderr       string
	DurationSecs float64
}

// GenerateRunID builds a run id like codex_20260201_a1b2c3d4.
func GenerateRunID() string {
	date := time.Now().UTC().Format("20060102")
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("codex_%s_%s", date, short)
}

// ResolvePrompt expands an @file prompt reference into the file's content.
func ResolvePrompt(prompt string) (string, error) {
	path, ok := strings.CutPrefix(prompt, "@")
	if !ok {
		return prompt, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file %q: %w", path, err)
	}
	return string(content), nil
}

// TruncateOutput caps captured output, appending a truncation notice.
func TruncateOutput(output string, maxBytes int) string {
	if len(output) <= maxBytes {
		return output
	}
	end := maxBytes
	for end > 0 && !isUTF8Boundary(output, end) {
		end--
	}
	return output[:end] + "\n... [output truncated]"
}

func isUTF8Boundary(s string, i int) bool {
	return i == 0 || i == len(s) || (s[i]&0xC0) != 0x80
}

// RunCodex spawns the codex subprocess with the prompt on stdin and waits
// for completion. On timeout the child is killed and the result reports
// timed_out with exit code 124.
func RunCodex(ctx context.Context, req CodexRequest) (*CodexResult, error) {
	if req.Binary == "" {
		req.Binary = "codex"
	}
	if req.Timeout <= 0 {
		req.Timeout = 1800 * time.Second
	}

	runID := GenerateRunID()

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{"exec", "--model", req.Model}
	if req.Sandbox != "" {
		args = append(args, "--sandbox", req.Sandbox)
	}

	cmd := exec.CommandContext(runCtx, req.Binary, args...)
	cmd.Dir = req.Cwd
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start).Seconds()

	result := &CodexResult{
		RunID:        runID,
		Stdout:       TruncateOutput(stdout.String(), maxCapturedOutputBytes),
		Stderr:       TruncateOutput(stderr.String(), maxCapturedOutputBytes),
		DurationSecs: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.Status = "timed_out"
		result.ExitCode = codexTimeoutExitCode
		result.Stderr = fmt.Sprintf("codex run timed out after %s", req.Timeout)
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = "failed"
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("spawn codex: %w", err)
	}

	result.Status = "completed"
	result.ExitCode = 0
	return result, nil
}

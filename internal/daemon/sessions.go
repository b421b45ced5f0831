package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antigravity-dev/tina/internal/store"
	"github.com/antigravity-dev/tina/internal/tmux"
)

// Ad-hoc terminal session endpoints.
//
//	POST   /sessions                — create a tmux session running a CLI
//	DELETE /sessions/{sessionName}  — end a session

const (
	adhocSessionPrefix = "tina-adhoc-"
	cliReadyTimeout    = 30 * time.Second
	cliReadyPoll       = 500 * time.Millisecond
)

// Valid CLI choices for ad-hoc sessions.
const (
	CliClaude = "claude"
	CliCodex  = "codex"
)

var contextTypes = map[string]string{
	"task":     "Task",
	"plan":     "Plan",
	"commit":   "Commit",
	"design":   "Design",
	"freeform": "Freeform",
}

// CreateSessionRequest is the POST /sessions body (camelCase).
type CreateSessionRequest struct {
	Label          string  `json:"label"`
	Cli            string  `json:"cli"`
	ContextType    *string `json:"contextType,omitempty"`
	ContextID      *string `json:"contextId,omitempty"`
	ContextSummary *string `json:"contextSummary,omitempty"`
}

// CreateSessionResponse is the POST /sessions response.
type CreateSessionResponse struct {
	SessionName string `json:"sessionName"`
	TmuxPaneID  string `json:"tmuxPaneId"`
}

// CliCommand returns the CLI invocation for a choice.
func CliCommand(cli string) (string, error) {
	switch cli {
	case CliClaude:
		return "claude --dangerously-skip-permissions", nil
	case CliCodex:
		return "codex", nil
	default:
		return "", fmt.Errorf("unknown cli %q", cli)
	}
}

// CliLaunchCommand prefixes ~/.local/bin onto PATH so symlinked CLIs are
// resolvable even when the daemon's own PATH is minimal.
func CliLaunchCommand(cli string) (string, error) {
	cmd, err := CliCommand(cli)
	if err != nil {
		return "", err
	}
	return `PATH="$PATH:$HOME/.local/bin" ` + cmd, nil
}

// BuildContextSeed renders the context-seeding prompt. Freeform context and
// empty contexts produce no seed.
func BuildContextSeed(contextType, contextID, contextSummary *string) (string, bool) {
	if contextType == nil {
		return "", false
	}
	label, known := contextTypes[*contextType]
	if !known || label == "Freeform" {
		return "", false
	}

	parts := []string{fmt.Sprintf("Context: %s session.", label)}
	if contextID != nil && *contextID != "" {
		parts = append(parts, fmt.Sprintf("%s ID: %s", label, *contextID))
	}
	if contextSummary != nil && *contextSummary != "" {
		parts = append(parts, fmt.Sprintf("Summary: %s", *contextSummary))
	}
	if len(parts) == 1 {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// GenerateSessionName returns a unique tina-adhoc-<8hex> name.
func GenerateSessionName() string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return adhocSessionPrefix + short
}

// IsCliReady checks captured pane output for a prompt marker.
func IsCliReady(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") || strings.HasPrefix(trimmed, "❯") {
			return true
		}
		if strings.Contains(trimmed, "bypass permissions") {
			return true
		}
	}
	return false
}

// DetectCliStartupError reports terminal output that means the CLI could
// not start, so creation fails fast instead of burning the 30s poll.
func DetectCliStartupError(output, cli string) (string, bool) {
	lowered := strings.ToLower(output)
	if !strings.Contains(lowered, cli) {
		return "", false
	}

	switch {
	case strings.Contains(lowered, "command not found"):
		return fmt.Sprintf(
			"CLI `%s` not found in tmux shell PATH. Install it and/or ensure ~/.local/bin is available.", cli), true
	case strings.Contains(lowered, "no such file or directory"):
		return fmt.Sprintf("CLI `%s` could not be executed (no such file or directory).", cli), true
	case strings.Contains(lowered, "permission denied"):
		return fmt.Sprintf("CLI `%s` could not be executed (permission denied).", cli), true
	default:
		return "", false
	}
}

func waitForCliReady(sessionName, cli string) error {
	deadline := time.Now().Add(cliReadyTimeout)
	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("CLI did not become ready within %s", cliReadyTimeout)
		}
		if output, err := tmux.CapturePane(sessionName, 50); err == nil {
			if message, failed := DetectCliStartupError(output, cli); failed {
				return fmt.Errorf("%s", message)
			}
			if IsCliReady(output) {
				return nil
			}
		}
		time.Sleep(cliReadyPoll)
	}
}

// handleCreateSession implements POST /sessions.
func (srv *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		http.Error(w, "label is required", http.StatusUnprocessableEntity)
		return
	}
	launchCmd, err := CliLaunchCommand(req.Cli)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	sessionName := GenerateSessionName()

	if err := tmux.NewSession(sessionName, ""); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Any failure past this point must not leak the session.
	fail := func(status int, message string) {
		tmux.KillSession(sessionName)
		http.Error(w, message, status)
	}

	if err := tmux.SendText(sessionName, launchCmd); err != nil {
		fail(http.StatusInternalServerError, err.Error())
		return
	}
	if err := waitForCliReady(sessionName, req.Cli); err != nil {
		fail(http.StatusInternalServerError, err.Error())
		return
	}

	if seed, ok := BuildContextSeed(req.ContextType, req.ContextID, req.ContextSummary); ok {
		if err := tmux.SendText(sessionName, seed); err != nil {
			srv.logger.Error("failed to send context seed", "session", sessionName, "error", err)
			fail(http.StatusInternalServerError, err.Error())
			return
		}
	}

	paneID, err := tmux.PaneID(sessionName)
	if err != nil {
		fail(http.StatusInternalServerError, err.Error())
		return
	}

	if srv.client != nil {
		record := &store.TerminalSessionRecord{
			SessionName:    sessionName,
			TmuxPaneID:     paneID,
			Label:          req.Label,
			Cli:            req.Cli,
			Status:         "active",
			ContextType:    req.ContextType,
			ContextID:      req.ContextID,
			ContextSummary: req.ContextSummary,
			CreatedAt:      float64(time.Now().UnixMilli()),
		}
		if _, err := srv.client.UpsertTerminalSession(r.Context(), record); err != nil {
			srv.logger.Warn("failed to persist terminal session (session still created)",
				"session_name", sessionName, "error", err)
		}
	}

	srv.logger.Info("ad-hoc session created",
		"session_name", sessionName, "pane_id", paneID, "cli", req.Cli)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateSessionResponse{
		SessionName: sessionName,
		TmuxPaneID:  paneID,
	})
}

// handleDeleteSession implements DELETE /sessions/{sessionName}.
func (srv *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionName := chi.URLParam(r, "sessionName")

	if err := tmux.KillSession(sessionName); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if srv.client != nil {
		endedAt := float64(time.Now().UnixMilli())
		if err := srv.client.MarkTerminalEnded(r.Context(), sessionName, endedAt); err != nil {
			srv.logger.Warn("failed to mark terminal session as ended (session still killed)",
				"session_name", sessionName, "error", err)
		}
	}

	srv.logger.Info("ad-hoc session ended", "session_name", sessionName)
	w.WriteHeader(http.StatusNoContent)
}

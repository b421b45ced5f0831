package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/antigravity-dev/tina/internal/git"
	"github.com/antigravity-dev/tina/internal/store"
)

// HTTPServer serves the read-only VCS endpoints, the terminal relay, and
// the ad-hoc session endpoints for the monitor UI.
type HTTPServer struct {
	client *store.Client // nil when the store is unreachable; VCS endpoints still work
	logger *slog.Logger
}

// NewHTTPServer builds the server. client may be nil.
func NewHTTPServer(client *store.Client, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{client: client, logger: logger}
}

// Router builds the chi router with the monitor's CORS policy.
func (srv *HTTPServer) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:4173",
			"http://127.0.0.1:4173",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", srv.handleHealth)
	r.Get("/diff", srv.handleDiffList)
	r.Get("/diff/file", srv.handleDiffFile)
	r.Get("/file", srv.handleFile)
	r.Get("/commits", srv.handleCommits)
	r.Get("/ws/terminal/{paneId}", srv.handleTerminalWS)
	r.Post("/sessions", srv.handleCreateSession)
	r.Delete("/sessions/{sessionName}", srv.handleDeleteSession)

	return r
}

// Serve listens on 127.0.0.1:port until the context is cancelled, then
// shuts down gracefully.
func (srv *HTTPServer) Serve(ctx context.Context, port int) error {
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("127.0.0.1:%d", port),
		Handler:     srv.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutCtx)
	}()

	srv.logger.Info("HTTP server listening", "port", port)
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (srv *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// requireParam reads a required query parameter or writes a 400.
func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		http.Error(w, fmt.Sprintf("%s query parameter is required", name), http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// validateWorktreePath requires an absolute, existing directory containing
// a .git entry.
func validateWorktreePath(raw string) (string, error) {
	if !filepath.IsAbs(raw) {
		return "", fmt.Errorf("worktree must be an absolute path: %s", raw)
	}
	canonical, err := filepath.EvalSymlinks(raw)
	if err != nil {
		return "", fmt.Errorf("worktree not found: %s", raw)
	}
	info, err := os.Stat(canonical)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("worktree is not a directory: %s", canonical)
	}
	if _, err := os.Stat(filepath.Join(canonical, ".git")); err != nil {
		return "", fmt.Errorf("worktree is not a git worktree: %s", canonical)
	}
	return canonical, nil
}

// mapGitError classifies git failures: user-facing revision errors are 400,
// everything else 500.
func mapGitError(op string, err error) (int, string) {
	message := err.Error()
	lowered := strings.ToLower(message)

	status := http.StatusInternalServerError
	for _, marker := range []string{
		"unknown revision",
		"bad revision",
		"invalid object name",
		"ambiguous argument",
		"invalid commit sha",
	} {
		if strings.Contains(lowered, marker) {
			status = http.StatusBadRequest
			break
		}
	}
	return status, fmt.Sprintf("%s: %s", op, message)
}

func (srv *HTTPServer) handleDiffList(w http.ResponseWriter, r *http.Request) {
	worktreeParam, ok := requireParam(w, r, "worktree")
	if !ok {
		return
	}
	base, ok := requireParam(w, r, "base")
	if !ok {
		return
	}

	worktree, err := validateWorktreePath(worktreeParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := git.DiffFileList(worktree, base)
	if err != nil {
		status, message := mapGitError("diff list failed", err)
		http.Error(w, message, status)
		return
	}
	if stats == nil {
		stats = []git.DiffFileStat{}
	}
	writeJSON(w, stats)
}

func (srv *HTTPServer) handleDiffFile(w http.ResponseWriter, r *http.Request) {
	worktreeParam, ok := requireParam(w, r, "worktree")
	if !ok {
		return
	}
	base, ok := requireParam(w, r, "base")
	if !ok {
		return
	}
	file, ok := requireParam(w, r, "file")
	if !ok {
		return
	}

	worktree, err := validateWorktreePath(worktreeParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hunks, err := git.FileDiff(worktree, base, file)
	if err != nil {
		status, message := mapGitError("file diff failed", err)
		http.Error(w, message, status)
		return
	}
	if hunks == nil {
		hunks = []git.DiffHunk{}
	}
	writeJSON(w, hunks)
}

func (srv *HTTPServer) handleFile(w http.ResponseWriter, r *http.Request) {
	worktreeParam, ok := requireParam(w, r, "worktree")
	if !ok {
		return
	}
	path, ok := requireParam(w, r, "path")
	if !ok {
		return
	}
	ref, ok := requireParam(w, r, "ref")
	if !ok {
		return
	}

	worktree, err := validateWorktreePath(worktreeParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	content, err := git.FileAtRef(worktree, ref, path)
	if err != nil {
		status, message := mapGitError("file lookup failed", err)
		http.Error(w, message, status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}

// CommitDetailsResponse is the /commits payload.
type CommitDetailsResponse struct {
	Commits     []git.Commit `json:"commits"`
	MissingShas []string     `json:"missingShas"`
}

func (srv *HTTPServer) handleCommits(w http.ResponseWriter, r *http.Request) {
	worktreeParam, ok := requireParam(w, r, "worktree")
	if !ok {
		return
	}
	shasParam, ok := requireParam(w, r, "shas")
	if !ok {
		return
	}

	worktree, err := validateWorktreePath(worktreeParam)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var shas []string
	for _, part := range strings.Split(shasParam, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			shas = append(shas, trimmed)
		}
	}
	if len(shas) == 0 {
		http.Error(w, "shas must include at least one SHA", http.StatusBadRequest)
		return
	}

	lookup, err := git.CommitDetailsBySha(worktree, shas)
	if err != nil {
		status, message := mapGitError("commit lookup failed", err)
		http.Error(w, message, status)
		return
	}

	// 404 only when every requested sha is missing.
	if len(lookup.Commits) == 0 && len(lookup.MissingShas) == len(shas) {
		http.Error(w, fmt.Sprintf("commits not found: %s", strings.Join(lookup.MissingShas, ",")), http.StatusNotFound)
		return
	}

	response := CommitDetailsResponse{
		Commits:     lookup.Commits,
		MissingShas: lookup.MissingShas,
	}
	if response.Commits == nil {
		response.Commits = []git.Commit{}
	}
	if response.MissingShas == nil {
		response.MissingShas = []string{}
	}
	writeJSON(w, response)
}

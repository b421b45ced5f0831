package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	return NewHTTPServer(nil, nil).Router()
}

func doGet(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func runHTTPTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// setupHTTPTestRepo builds a repo on branch `feature` with a known diff
// against `main`.
func setupHTTPTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	runHTTPTestGit(t, dir, "init", "-b", "main")
	runHTTPTestGit(t, dir, "config", "user.email", "test@test.com")
	runHTTPTestGit(t, dir, "config", "user.name", "Test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\nworld\n"), 0o644))
	runHTTPTestGit(t, dir, "add", "hello.txt")
	runHTTPTestGit(t, dir, "commit", "-m", "initial")

	runHTTPTestGit(t, dir, "checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hello\nmodified world\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new file content\n"), 0o644))
	runHTTPTestGit(t, dir, "add", ".")
	runHTTPTestGit(t, dir, "commit", "-m", "feature changes")

	return dir
}

func TestHealthReturnsOK(t *testing.T) {
	rec := doGet(t, testRouter(t), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestDiffListRejectsMissingWorktree(t *testing.T) {
	rec := doGet(t, testRouter(t), "/diff?worktree=/nonexistent/path&base=main")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiffRejectsRelativeWorktree(t *testing.T) {
	rec := doGet(t, testRouter(t), "/diff?worktree=relative/path&base=main")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpointsRejectMissingParams(t *testing.T) {
	router := testRouter(t)
	for _, target := range []string{"/diff", "/diff/file", "/file", "/commits"} {
		rec := doGet(t, router, target)
		require.Equal(t, http.StatusBadRequest, rec.Code, "target %s", target)
	}
}

func TestRejectsNonGitWorktree(t *testing.T) {
	dir := t.TempDir()
	rec := doGet(t, testRouter(t), "/diff?worktree="+url.QueryEscape(dir)+"&base=main")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDiffListReturnsChangedFiles(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t), "/diff?worktree="+url.QueryEscape(repo)+"&base=main")
	require.Equal(t, http.StatusOK, rec.Code)

	var files []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.GreaterOrEqual(t, len(files), 2)

	var paths []string
	for _, f := range files {
		paths = append(paths, f["path"].(string))
	}
	require.Contains(t, paths, "hello.txt")
	require.Contains(t, paths, "new.txt")
}

func TestDiffFileReturnsHunks(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t),
		"/diff/file?worktree="+url.QueryEscape(repo)+"&base=main&file=hello.txt")
	require.Equal(t, http.StatusOK, rec.Code)

	var hunks []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hunks))
	require.NotEmpty(t, hunks)
}

func TestFileAtRefReturnsContent(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t),
		"/file?worktree="+url.QueryEscape(repo)+"&path=hello.txt&ref=main")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hello")
	require.Contains(t, rec.Body.String(), "world")
}

func TestFileRejectsInvalidRef(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t),
		"/file?worktree="+url.QueryEscape(repo)+"&path=hello.txt&ref=not-a-real-ref")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitsReturnsFoundAndMissingShas(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	head := runHTTPTestGit(t, repo, "rev-parse", "HEAD")
	rec := doGet(t, testRouter(t),
		fmt.Sprintf("/commits?worktree=%s&shas=%s,deadbeef", url.QueryEscape(repo), head))
	require.Equal(t, http.StatusOK, rec.Code)

	var payload CommitDetailsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Commits, 1)
	require.Equal(t, head, payload.Commits[0].Sha)
	require.Equal(t, []string{"deadbeef"}, payload.MissingShas)
}

func TestCommitsRejectsMalformedSha(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t),
		"/commits?worktree="+url.QueryEscape(repo)+"&shas=not-a-sha")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitsReturnsNotFoundWhenAllMissing(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	rec := doGet(t, testRouter(t),
		"/commits?worktree="+url.QueryEscape(repo)+"&shas=deadbeef,cafebabe")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommitsResponseUsesCamelCase(t *testing.T) {
	repo := setupHTTPTestRepo(t)
	head := runHTTPTestGit(t, repo, "rev-parse", "HEAD")
	rec := doGet(t, testRouter(t),
		fmt.Sprintf("/commits?worktree=%s&shas=%s", url.QueryEscape(repo), head))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"missingShas"`)
	require.Contains(t, rec.Body.String(), `"shortSha"`)
}

func TestWSTerminalRouteRegistered(t *testing.T) {
	// A plain GET (no upgrade headers) still reaches the handler: a pane id
	// without the "%" prefix is rejected there as invalid format (400),
	// not by the router as an unknown route (404).
	rec := doGet(t, testRouter(t), "/ws/terminal/302")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSHeadersPresent(t *testing.T) {
	router := testRouter(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/diff?worktree=/tmp&base=main"},
		{http.MethodPost, "/sessions"},
		{http.MethodDelete, "/sessions/tina-adhoc-abc"},
	} {
		req := httptest.NewRequest(http.MethodOptions, tc.target, nil)
		req.Header.Set("Origin", "http://localhost:5173")
		req.Header.Set("Access-Control-Request-Method", tc.method)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"),
			"method %s target %s", tc.method, tc.target)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/diff?worktree=/tmp&base=main", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	testRouter(t).ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateSessionRejectsBadBodies(t *testing.T) {
	router := testRouter(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusBadRequest, post("").Code)
	require.Equal(t, http.StatusUnprocessableEntity, post(`{"label": "test", "cli": "invalid"}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, post(`{"cli": "claude"}`).Code)
}

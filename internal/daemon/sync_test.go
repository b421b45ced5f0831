package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/tina/internal/git"
	"github.com/antigravity-dev/tina/internal/store"
	"github.com/antigravity-dev/tina/internal/store/storetest"
)

func testSyncer(t *testing.T) (*Syncer, *store.Client, *storetest.Server, string, string) {
	t.Helper()
	server := storetest.New()
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, err := store.Connect(ctx, server.URL())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	base := t.TempDir()
	teamsDir := filepath.Join(base, "teams")
	tasksDir := filepath.Join(base, "tasks")
	require.NoError(t, os.MkdirAll(teamsDir, 0o755))
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))

	syncer := NewSyncer(client, NewSyncCache(), nil, teamsDir, tasksDir, slog.Default())
	return syncer, client, server, teamsDir, tasksDir
}

func writeTeamConfig(t *testing.T, teamsDir, dirName string, members ...string) {
	t.Helper()
	teamDir := filepath.Join(teamsDir, dirName)
	require.NoError(t, os.MkdirAll(teamDir, 0o755))

	var memberJSON []string
	for i, name := range members {
		pane := "null"
		if i == 0 {
			pane = `"%42"`
		}
		memberJSON = append(memberJSON, `{
			"agentId": "`+name+`@`+dirName+`",
			"name": "`+name+`",
			"agentType": "general-purpose",
			"model": "claude-sonnet-4-5",
			"joinedAt": 1706644800000,
			"tmuxPaneId": `+pane+`,
			"cwd": "/work",
			"subscriptions": []
		}`)
	}

	config := `{
		"name": "` + dirName + `",
		"description": "Test",
		"createdAt": 1706644800000,
		"leadAgentId": "lead@` + dirName + `",
		"leadSessionId": "session-` + dirName + `",
		"members": [` + strings.Join(memberJSON, ",") + `]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(config), 0o644))
}

func writeTask(t *testing.T, tasksDir, dirName, id, subject, status string) {
	t.Helper()
	dir := filepath.Join(tasksDir, dirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	task := `{
		"id": "` + id + `",
		"subject": "` + subject + `",
		"description": "Test task",
		"status": "` + status + `",
		"owner": null,
		"blocks": [],
		"blockedBy": [],
		"metadata": {}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(task), 0o644))
}

func activeTeam(id, dirName, orchID, phase string) store.ActiveTeamRecord {
	return store.ActiveTeamRecord{
		ID:                  id,
		TeamName:            dirName,
		OrchestrationID:     orchID,
		LeadSessionID:       "session-" + dirName,
		LocalDirName:        dirName,
		PhaseNumber:         store.StrPtr(phase),
		CreatedAt:           1706644800000,
		OrchestrationStatus: "executing",
		FeatureName:         "feature",
	}
}

// --- Pure cache helpers ---

func TestPhaseCacheKey(t *testing.T) {
	require.Equal(t, "__orchestrator__", phaseCacheKey(nil))
	require.Equal(t, "__orchestrator__", phaseCacheKey(store.StrPtr("")))
	require.Equal(t, "__orchestrator__", phaseCacheKey(store.StrPtr("  ")))
	require.Equal(t, "1", phaseCacheKey(store.StrPtr("1")))
	require.Equal(t, "1.5", phaseCacheKey(store.StrPtr("1.5")))
}

func TestShouldEmitSkipEventThrottlesWithinWindow(t *testing.T) {
	cache := NewSyncCache()
	now := int64(1_000_000)
	key := "unchanged_cache:orch:1"

	require.True(t, shouldEmitSkipEvent(cache, key, now))
	require.False(t, shouldEmitSkipEvent(cache, key, now+10))
	require.False(t, shouldEmitSkipEvent(cache, key, now+59))
	require.True(t, shouldEmitSkipEvent(cache, key, now+61))

	// Distinct keys throttle independently.
	require.True(t, shouldEmitSkipEvent(cache, "other", now))
}

func TestMaybeAdvanceLastCommitShaOnlyOnFullSuccess(t *testing.T) {
	cache := NewSyncCache()
	cache.lastCommitSha["orch-1"] = "oldsha"

	commits := []git.Commit{
		{Sha: "newest", ShortSha: "newest", Subject: "new"},
		{Sha: "older", ShortSha: "older", Subject: "old"},
	}

	maybeAdvanceLastCommitSha(cache, "orch-1", commits, false)
	require.Equal(t, "oldsha", cache.lastCommitSha["orch-1"])

	maybeAdvanceLastCommitSha(cache, "orch-1", commits, true)
	require.Equal(t, "newest", cache.lastCommitSha["orch-1"])
}

func TestFormatPhaseNumber(t *testing.T) {
	cases := []struct {
		in  float64
		out string
	}{
		{1, "1"},
		{2, "2"},
		{1.5, "1.5"},
		{1.50, "1.5"},
		{10, "10"},
	}
	for _, tc := range cases {
		got, ok := formatPhaseNumber(tc.in)
		require.True(t, ok)
		require.Equal(t, tc.out, got)
	}
}

func TestExtractPhaseFromPlanFilename(t *testing.T) {
	phase, err := ExtractPhaseFromPlanFilename("2026-02-10-my-feature-phase-1.md")
	require.NoError(t, err)
	require.Equal(t, "1", phase)

	phase, err = ExtractPhaseFromPlanFilename("2026-01-15-multi-word-feature-phase-12.md")
	require.NoError(t, err)
	require.Equal(t, "12", phase)

	_, err = ExtractPhaseFromPlanFilename("no-phase.md")
	require.Error(t, err)
	_, err = ExtractPhaseFromPlanFilename("phase-1.txt")
	require.Error(t, err)
}

func TestFindWorktreeByRefPath(t *testing.T) {
	cache := NewSyncCache()
	cache.SetWorktrees([]WorktreeInfo{{
		OrchestrationID: "orch1",
		Feature:         "test-feature",
		WorktreePath:    "/project/.worktrees/test",
		Branch:          "tina/test-feature",
		CurrentPhase:    "1",
		GitDirPath:      store.StrPtr("/project/.git/worktrees/test"),
		BranchRefPath:   store.StrPtr("/project/.git/refs/heads/tina/test-feature"),
	}})

	found := cache.FindWorktreeByRefPath("/project/.git/refs/heads/tina/test-feature")
	require.NotNil(t, found)
	require.Equal(t, "test-feature", found.Feature)

	// Directory-level events surface an ancestor of the ref.
	found = cache.FindWorktreeByRefPath("/project/.git/refs/heads/tina")
	require.NotNil(t, found)

	// Git-dir fallbacks.
	require.NotNil(t, cache.FindWorktreeByRefPath("/project/.git/worktrees/test/HEAD"))
	require.NotNil(t, cache.FindWorktreeByRefPath("/project/.git/worktrees/test/packed-refs"))

	require.Nil(t, cache.FindWorktreeByRefPath("/nonexistent/path"))
}

func TestFindWorktreeByPlanAndDesignPath(t *testing.T) {
	cache := NewSyncCache()
	cache.SetWorktrees([]WorktreeInfo{{
		OrchestrationID: "orch1",
		Feature:         "test-feature",
		WorktreePath:    "/project/.worktrees/test",
		Branch:          "tina/test-feature",
		CurrentPhase:    "1",
	}})

	require.NotNil(t, cache.FindWorktreeByPlanPath(
		"/project/.worktrees/test/docs/plans/2026-02-10-test-phase-1.md"))
	// Repository-root fallback.
	require.NotNil(t, cache.FindWorktreeByPlanPath(
		"/project/docs/plans/2026-02-10-test-phase-1.md"))
	require.Nil(t, cache.FindWorktreeByPlanPath("/elsewhere/docs/plans/x.md"))

	require.NotNil(t, cache.FindWorktreeByDesignPath(
		"/project/.worktrees/test/ui/designs/sets/my-design/meta.ts"))
	require.Nil(t, cache.FindWorktreeByDesignPath(
		"/other/.worktrees/other/ui/designs/sets/my-design/meta.ts"))
}

// --- Task sync ---

func TestSyncTasksWritesOnceAndSkipsUnchanged(t *testing.T) {
	syncer, _, server, _, tasksDir := testSyncer(t)
	ctx := context.Background()

	writeTask(t, tasksDir, "feature-phase-1", "1", "Build feature", "pending")
	teams := []store.ActiveTeamRecord{activeTeam("team_1", "feature-phase-1", "orch_1", "1")}

	require.NoError(t, syncer.SyncTasks(ctx, teams))
	require.Equal(t, 1, server.TaskEventCount())

	// Identical content: no new task event.
	require.NoError(t, syncer.SyncTasks(ctx, teams))
	require.Equal(t, 1, server.TaskEventCount())

	// Status change: one more event.
	writeTask(t, tasksDir, "feature-phase-1", "1", "Build feature", "in_progress")
	require.NoError(t, syncer.SyncTasks(ctx, teams))
	require.Equal(t, 2, server.TaskEventCount())
}

func TestSyncTasksMissingDirIsSkipNotError(t *testing.T) {
	syncer, _, server, _, _ := testSyncer(t)
	teams := []store.ActiveTeamRecord{activeTeam("team_1", "no-such-dir", "orch_1", "1")}

	require.NoError(t, syncer.SyncTasks(context.Background(), teams))
	require.Equal(t, 0, server.TaskEventCount())
}

func TestSyncTasksFailedWriteDoesNotPoisonCache(t *testing.T) {
	syncer, _, server, _, tasksDir := testSyncer(t)
	ctx := context.Background()

	writeTask(t, tasksDir, "feature-phase-1", "1", "Build feature", "pending")
	teams := []store.ActiveTeamRecord{activeTeam("team_1", "feature-phase-1", "orch_1", "1")}

	server.FailNext("taskEvents:record", 1)
	require.NoError(t, syncer.SyncTasks(ctx, teams))
	require.Equal(t, 0, server.TaskEventCount())

	// The failed write left no cache entry, so the next pass retries.
	require.NoError(t, syncer.SyncTasks(ctx, teams))
	require.Equal(t, 1, server.TaskEventCount())
}

func TestSyncTasksEmptyLocalDirNameErrors(t *testing.T) {
	syncer, _, _, _, _ := testSyncer(t)
	team := activeTeam("team_1", "", "orch_1", "1")
	team.LocalDirName = ""

	err := syncer.SyncTasks(context.Background(), []store.ActiveTeamRecord{team})
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty local_dir_name for team_id=team_1")
}

// --- Team member sync ---

func TestSyncTeamMembersUpsertsAndDetectsRemoval(t *testing.T) {
	syncer, _, server, teamsDir, _ := testSyncer(t)
	ctx := context.Background()

	writeTeamConfig(t, teamsDir, "feature-phase-1", "team-lead", "worker")
	team := activeTeam("team_1", "feature-phase-1", "orch_1", "1")

	require.NoError(t, syncer.SyncTeamMembers(ctx, &team))
	names := server.TeamMemberNames("orch_1", "1")
	require.ElementsMatch(t, []string{"team-lead", "worker"}, names)

	// Remove the worker: shutdown event recorded, row pruned.
	writeTeamConfig(t, teamsDir, "feature-phase-1", "team-lead")
	require.NoError(t, syncer.SyncTeamMembers(ctx, &team))

	names = server.TeamMemberNames("orch_1", "1")
	require.ElementsMatch(t, []string{"team-lead"}, names)
	require.Contains(t, server.EventTypes(), "agent_shutdown")
}

func TestSyncTeamMembersIdempotent(t *testing.T) {
	syncer, _, server, teamsDir, _ := testSyncer(t)
	ctx := context.Background()

	writeTeamConfig(t, teamsDir, "feature-phase-1", "team-lead")
	team := activeTeam("team_1", "feature-phase-1", "orch_1", "1")

	require.NoError(t, syncer.SyncTeamMembers(ctx, &team))
	first := server.MutationCalls("teamMembers:upsert")
	require.NoError(t, syncer.SyncTeamMembers(ctx, &team))
	require.Equal(t, first, server.MutationCalls("teamMembers:upsert"))
}

// --- Commit sync ---

func runSyncTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

func setupCommitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runSyncTestGit(t, dir, "init", "-b", "tina/feature")
	runSyncTestGit(t, dir, "config", "user.email", "test@test.com")
	runSyncTestGit(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	runSyncTestGit(t, dir, "add", ".")
	runSyncTestGit(t, dir, "commit", "-m", "initial")
	return dir
}

func addCommit(t *testing.T, dir, file, message string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(message+"\n"), 0o644))
	runSyncTestGit(t, dir, "add", ".")
	runSyncTestGit(t, dir, "commit", "-m", message)
	return runSyncTestGit(t, dir, "rev-parse", "HEAD")
}

func TestSyncCommitsInitializesHeadAnchor(t *testing.T) {
	syncer, _, server, _, _ := testSyncer(t)
	ctx := context.Background()
	repo := setupCommitRepo(t)
	head := runSyncTestGit(t, repo, "rev-parse", "HEAD")

	require.NoError(t, syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature"))

	// Anchor initialized at HEAD; no commits written, no back-fill.
	sha, ok := syncer.cache.LastCommitSha("orch_1")
	require.True(t, ok)
	require.Equal(t, head, sha)
	require.Empty(t, server.CommitShas("orch_1"))
}

func TestSyncCommitsWritesNewCommitsAfterAnchor(t *testing.T) {
	syncer, client, server, _, _ := testSyncer(t)
	ctx := context.Background()
	repo := setupCommitRepo(t)

	// Register the orchestration so live-phase resolution finds it.
	_, err := client.UpsertOrchestration(ctx, &store.OrchestrationRecord{
		NodeID: "node_1", FeatureName: "feature", DesignDocPath: "d.md",
		Branch: "tina/feature", TotalPhases: 2, CurrentPhase: 2,
		Status: "executing", StartedAt: "2026-02-14T10:00:00Z",
	})
	require.NoError(t, err)
	entries, err := client.ListOrchestrations(ctx)
	require.NoError(t, err)
	orchID := entries[0].ID

	require.NoError(t, syncer.SyncCommits(ctx, orchID, "1", repo, "tina/feature"))

	newSha := addCommit(t, repo, "b.txt", "feat: add b")
	require.NoError(t, syncer.SyncCommits(ctx, orchID, "1", repo, "tina/feature"))

	require.ElementsMatch(t, []string{newSha}, server.CommitShas(orchID))
	sha, _ := syncer.cache.LastCommitSha(orchID)
	require.Equal(t, newSha, sha)
}

func TestSyncCommitsPartialFailurePreservesCache(t *testing.T) {
	syncer, _, server, _, _ := testSyncer(t)
	ctx := context.Background()
	repo := setupCommitRepo(t)
	anchor := runSyncTestGit(t, repo, "rev-parse", "HEAD")

	require.NoError(t, syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature"))

	addCommit(t, repo, "b.txt", "feat: add b")
	newest := addCommit(t, repo, "c.txt", "feat: add c")

	// First write in the batch fails: anchor stays put.
	server.FailNext("commits:record", 1)
	err := syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature")
	require.Error(t, err)
	sha, _ := syncer.cache.LastCommitSha("orch_1")
	require.Equal(t, anchor, sha)

	// Newest succeeds but the second write fails: anchor still stays put.
	server.FailNextAfter("commits:record", 1, 1)
	err = syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature")
	require.Error(t, err)
	sha, _ = syncer.cache.LastCommitSha("orch_1")
	require.Equal(t, anchor, sha)

	// Full success: anchor advances to the newest sha and both commits land.
	require.NoError(t, syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature"))
	sha, _ = syncer.cache.LastCommitSha("orch_1")
	require.Equal(t, newest, sha)
	require.Len(t, server.CommitShas("orch_1"), 2)
}

func TestSyncCommitsNoNewCommitsIsNoop(t *testing.T) {
	syncer, _, server, _, _ := testSyncer(t)
	ctx := context.Background()
	repo := setupCommitRepo(t)

	require.NoError(t, syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature"))
	require.NoError(t, syncer.SyncCommits(ctx, "orch_1", "1", repo, "tina/feature"))
	require.Empty(t, server.CommitShas("orch_1"))
}

// --- Plan sync ---

func TestSyncPlanUpsertsByPhase(t *testing.T) {
	syncer, client, _, _, _ := testSyncer(t)
	ctx := context.Background()

	plansDir := t.TempDir()
	planPath := filepath.Join(plansDir, "2026-02-10-feature-phase-1.md")
	require.NoError(t, os.WriteFile(planPath, []byte("# Plan\nsteps"), 0o644))

	require.NoError(t, syncer.SyncPlan(ctx, "orch_1", planPath))
	require.NoError(t, syncer.SyncPlan(ctx, "orch_1", planPath))

	plans, err := client.ListPlans(ctx, "orch_1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "1", plans[0].PhaseNumber)
	require.Equal(t, "# Plan\nsteps", plans[0].Content)
}

func TestSyncPlanRejectsUnmatchedFilename(t *testing.T) {
	syncer, _, _, _, _ := testSyncer(t)
	planPath := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(planPath, []byte("# notes"), 0o644))

	err := syncer.SyncPlan(context.Background(), "orch_1", planPath)
	require.Error(t, err)
}

// --- Discovery ---

func TestDiscoverWorktreesFiltersCompleteAndMissing(t *testing.T) {
	syncer, client, _, _, _ := testSyncer(t)
	ctx := context.Background()

	existing := t.TempDir()
	for _, tc := range []struct {
		feature  string
		status   string
		worktree *string
	}{
		{"active-feature", "executing", store.StrPtr(existing)},
		{"done-feature", "complete", store.StrPtr(existing)},
		{"gone-feature", "executing", store.StrPtr("/nonexistent/worktree")},
		{"no-worktree", "executing", nil},
	} {
		_, err := client.UpsertOrchestration(ctx, &store.OrchestrationRecord{
			NodeID: "node_1", FeatureName: tc.feature, DesignDocPath: "d.md",
			Branch: "tina/" + tc.feature, WorktreePath: tc.worktree,
			TotalPhases: 1, CurrentPhase: 1, Status: tc.status,
			StartedAt: "2026-02-14T10:00:00Z",
		})
		require.NoError(t, err)
	}

	worktrees, err := syncer.DiscoverWorktrees(ctx)
	require.NoError(t, err)
	require.Len(t, worktrees, 1)
	require.Equal(t, "active-feature", worktrees[0].Feature)
	require.Equal(t, existing, worktrees[0].WorktreePath)
	require.Equal(t, "1", worktrees[0].CurrentPhase)
}

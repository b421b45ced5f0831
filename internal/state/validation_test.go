package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSupervisorStateMissingFile(t *testing.T) {
	result := ValidateSupervisorState(filepath.Join(t.TempDir(), "missing.json"))
	require.False(t, result.IsValid())
}

func TestValidateSupervisorStateGoodFile(t *testing.T) {
	worktree := t.TempDir()
	design := filepath.Join(worktree, "design.md")
	require.NoError(t, os.WriteFile(design, []byte("# design"), 0o644))

	s := New("good-feature", design, worktree, "tina/good", 3)
	s.CurrentPhase = 1
	s.EnsurePhase("1")
	require.NoError(t, s.Save())

	result := ValidateSupervisorState(StatePath(worktree))
	require.True(t, result.IsValid(), "issues: %+v", result.Issues)
}

func TestValidateSupervisorStateBadPhaseKey(t *testing.T) {
	worktree := t.TempDir()
	s := New("bad-phase", "/tmp/design.md", worktree, "tina/bad", 3)
	s.CurrentPhase = 1
	s.Phases["1.3"] = NewPhaseState()
	require.NoError(t, s.Save())

	result := ValidateSupervisorState(StatePath(worktree))
	require.False(t, result.IsValid())
}

func TestValidateSupervisorStateCurrentExceedsTotal(t *testing.T) {
	worktree := t.TempDir()
	s := New("over", "/tmp/design.md", worktree, "tina/over", 2)
	s.CurrentPhase = 5
	require.NoError(t, s.Save())

	result := ValidateSupervisorState(StatePath(worktree))
	require.False(t, result.IsValid())
}

func TestValidateTeam(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "feature-phase-1",
		"description": "Test",
		"createdAt": 1706644800000,
		"leadAgentId": "lead@feature-phase-1",
		"leadSessionId": "session-1",
		"members": [{
			"agentId": "lead@feature-phase-1",
			"name": "team-lead",
			"agentType": "team-lead",
			"model": "claude-opus-4-6",
			"joinedAt": 1706644800000,
			"tmuxPaneId": "%42",
			"cwd": "/work",
			"subscriptions": []
		}]
	}`), 0o644))

	result := ValidateTeam(path)
	require.True(t, result.IsValid(), "issues: %+v", result.Issues)
}

func TestValidateTeamEmptyFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"name": "",
		"leadAgentId": "",
		"members": [{"agentId": "", "name": "", "model": ""}]
	}`), 0o644))

	result := ValidateTeam(path)
	require.False(t, result.IsValid())
	require.GreaterOrEqual(t, len(result.Issues), 4)
}

func TestValidateTask(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "1.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"id": "1", "subject": "Build feature", "description": "",
		"status": "pending", "owner": null, "blocks": [], "blockedBy": [], "metadata": {}
	}`), 0o644))
	require.True(t, ValidateTask(good).IsValid())

	bad := filepath.Join(dir, "2.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": "", "subject": ""}`), 0o644))
	require.False(t, ValidateTask(bad).IsValid())
}

func TestValidateTinaDirectory(t *testing.T) {
	worktree := t.TempDir()
	result := ValidateTinaDirectory(filepath.Join(worktree, ".claude", "tina"))
	require.False(t, result.IsValid())

	s := New("dir-check", "/tmp/design.md", worktree, "tina/dir", 1)
	s.CurrentPhase = 1
	require.NoError(t, s.Save())

	result = ValidateTinaDirectory(filepath.Join(worktree, ".claude", "tina"))
	require.True(t, result.IsValid(), "issues: %+v", result.Issues)
}

func TestLoadTeamConfigAndTasks(t *testing.T) {
	base := t.TempDir()
	teamDir := filepath.Join(base, "teams", "my-team")
	require.NoError(t, os.MkdirAll(teamDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(teamDir, "config.json"), []byte(`{
		"name": "my-team",
		"description": "Test",
		"createdAt": 1706644800000,
		"leadAgentId": "lead@my-team",
		"leadSessionId": "session-my-team",
		"members": [{
			"agentId": "lead@my-team", "name": "team-lead", "agentType": "team-lead",
			"model": "claude-opus-4-6", "joinedAt": 1706644800000,
			"tmuxPaneId": null, "cwd": "/work", "subscriptions": []
		}, {
			"agentId": "worker@my-team", "name": "worker", "agentType": "general-purpose",
			"model": "claude-sonnet-4-5", "joinedAt": 1706644800001,
			"tmuxPaneId": "%7", "cwd": "/work", "subscriptions": []
		}]
	}`), 0o644))

	team, err := LoadTeamConfig(filepath.Join(base, "teams"), "my-team")
	require.NoError(t, err)
	require.Equal(t, "my-team", team.Name)
	require.Len(t, team.Members, 2)
	require.Nil(t, team.Members[0].TmuxPaneID)
	require.NotNil(t, team.Members[1].TmuxPaneID)
	require.Equal(t, "%7", *team.Members[1].TmuxPaneID)

	names, err := ListTeamNames(filepath.Join(base, "teams"))
	require.NoError(t, err)
	require.Equal(t, []string{"my-team"}, names)

	// Directory without config.json is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "teams", "not-a-team"), 0o755))
	names, err = ListTeamNames(filepath.Join(base, "teams"))
	require.NoError(t, err)
	require.Equal(t, []string{"my-team"}, names)

	taskDir := filepath.Join(base, "tasks", "my-team")
	require.NoError(t, os.MkdirAll(taskDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "1.json"), []byte(`{
		"id": "1", "subject": "Build feature", "description": "Test task",
		"status": "pending", "owner": null, "blocks": [], "blockedBy": [], "metadata": {}
	}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "broken.json"), []byte("{"), 0o644))

	tasks, problems := LoadTaskFiles(taskDir)
	require.Len(t, tasks, 1)
	require.Len(t, problems, 1)
	require.Equal(t, "Build feature", tasks[0].Subject)

	tasks, problems = LoadTaskFiles(filepath.Join(base, "tasks", "nonexistent"))
	require.Empty(t, tasks)
	require.Empty(t, problems)
}

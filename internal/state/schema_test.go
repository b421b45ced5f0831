package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	worktree := t.TempDir()
	s := New("round-trip", "/tmp/design.md", worktree, "tina/round-trip", 3)
	s.EnsurePhase("1").Status = PhaseReviewing
	s.Phases["1"].GitRange = "abc..def"
	mins := 12.5
	s.Phases["1"].Breakdown.PlanningMins = &mins

	require.NoError(t, s.Save())

	loaded, err := Load(worktree)
	require.NoError(t, err)
	require.Equal(t, s.Feature, loaded.Feature)
	require.Equal(t, s.TotalPhases, loaded.TotalPhases)
	require.Equal(t, PhaseReviewing, loaded.Phases["1"].Status)
	require.Equal(t, "abc..def", loaded.Phases["1"].GitRange)
	require.NotNil(t, loaded.Phases["1"].Breakdown.PlanningMins)
	require.Equal(t, 12.5, *loaded.Phases["1"].Breakdown.PlanningMins)
}

func TestLoadMissingState(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	worktree := t.TempDir()
	path := StatePath(worktree)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99, "feature": "x"}`), 0o644))

	_, err := Load(worktree)
	require.Error(t, err)
	require.Contains(t, err.Error(), "version")
}

func TestLoadRejectsGarbage(t *testing.T) {
	worktree := t.TempDir()
	path := StatePath(worktree)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Load(worktree)
	require.Error(t, err)
}

func TestSaveIsAtomic(t *testing.T) {
	worktree := t.TempDir()
	s := New("atomic", "/tmp/design.md", worktree, "tina/atomic", 1)
	require.NoError(t, s.Save())

	// No temp files should survive a save.
	entries, err := os.ReadDir(filepath.Dir(StatePath(worktree)))
	require.NoError(t, err)
	for _, entry := range entries {
		require.NotContains(t, entry.Name(), ".supervisor-state-")
	}
}

// State round-trips through JSON without loss after any advance.
func TestAdvanceStateRoundTripsThroughJSON(t *testing.T) {
	s := testState(t, 2)
	_, err := AdvanceState(s, "validation", AdvanceEvent{Type: EventValidationPass})
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded SupervisorState
	require.NoError(t, json.Unmarshal(data, &decoded))

	again, err := json.Marshal(&decoded)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))
}

func TestSetRoleModel(t *testing.T) {
	s := testState(t, 1)

	require.NoError(t, s.SetRoleModel("executor", "haiku"))
	require.Equal(t, "haiku", s.ModelPolicy.Executor)

	require.Error(t, s.SetRoleModel("architect", "opus"))
	require.Error(t, s.SetRoleModel("planner", ""))
	require.Error(t, s.SetRoleModel("planner", "model`injection"))

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	require.Error(t, s.SetRoleModel("planner", string(long)))

	// Exactly 50 chars is allowed.
	require.NoError(t, s.SetRoleModel("planner", string(long[:50])))
}

func TestSetPolicies(t *testing.T) {
	s := testState(t, 1)

	require.NoError(t, s.SetModelPolicy(json.RawMessage(`{
		"validator": "opus", "planner": "opus", "executor": "sonnet", "reviewer": "opus"
	}`)))
	require.Equal(t, "sonnet", s.ModelPolicy.Executor)

	require.NoError(t, s.SetReviewPolicy(json.RawMessage(`{"consensus": true, "reviewers": 2}`)))
	require.Equal(t, true, s.ReviewPolicy["consensus"])

	require.Error(t, s.SetModelPolicy(json.RawMessage(`"not an object`)))

	snapshot, err := s.PolicySnapshot()
	require.NoError(t, err)
	require.Contains(t, snapshot, "model_policy")
	require.Contains(t, snapshot, "review_policy")
}

package harness

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/antigravity-dev/tina/internal/daemon"
	"github.com/antigravity-dev/tina/internal/state"
	"github.com/antigravity-dev/tina/internal/store"
)

// daemonRestartWait is how long to wait after restarting the daemon before
// checking liveness.
const daemonRestartWait = 500 * time.Millisecond

// Step is one scripted phase event.
type Step struct {
	Phase string
	Event state.AdvanceEvent

	// ExpectedAction, when set, must match the action the machine returns.
	ExpectedAction state.ActionType
}

// Scenario is a full scripted orchestration run.
type Scenario struct {
	Feature     string
	DesignDoc   string
	Worktree    string
	Branch      string
	TotalPhases int
	Steps       []Step
}

// Runner drives scenarios against a store-backed orchestration and
// verifies the projected result.
type Runner struct {
	client *store.Client
	nodeID string
	logger *slog.Logger
}

// NewRunner wraps a connected store client.
func NewRunner(client *store.Client, nodeID string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{client: client, nodeID: nodeID, logger: logger}
}

// Run executes every step of a scenario through the state machine, syncing
// the orchestration and phase rows after each advance, and returns the
// final supervisor state.
func (r *Runner) Run(ctx context.Context, scenario *Scenario) (*state.SupervisorState, error) {
	st := state.New(scenario.Feature, scenario.DesignDoc, scenario.Worktree, scenario.Branch, scenario.TotalPhases)

	if err := r.syncState(ctx, st); err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}

	for i, step := range scenario.Steps {
		action, err := state.AdvanceState(st, step.Phase, step.Event)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i, step.Phase, step.Event.Type, err)
		}
		if step.ExpectedAction != "" && action.Type != step.ExpectedAction {
			return nil, newFailure(FailureOrchestration,
				"step %d (%s %s): action = %s, want %s",
				i, step.Phase, step.Event.Type, action.Type, step.ExpectedAction)
		}

		if err := st.Save(); err != nil {
			return nil, fmt.Errorf("step %d: save state: %w", i, err)
		}
		if err := r.syncState(ctx, st); err != nil {
			return nil, fmt.Errorf("step %d: sync: %w", i, err)
		}

		r.logger.Info("scenario step applied",
			"step", i, "phase", step.Phase, "event", string(step.Event.Type), "action", string(action.Type))
	}

	return st, nil
}

// syncState mirrors the supervisor state into orchestration and phase rows.
func (r *Runner) syncState(ctx context.Context, st *state.SupervisorState) error {
	record := &store.OrchestrationRecord{
		NodeID:        r.nodeID,
		FeatureName:   st.Feature,
		DesignDocPath: st.DesignDoc,
		Branch:        st.Branch,
		WorktreePath:  store.StrPtr(st.WorktreePath),
		TotalPhases:   float64(st.TotalPhases),
		CurrentPhase:  float64(st.CurrentPhase),
		Status:        string(st.Status),
		StartedAt:     st.OrchestrationStartedAt.Format(time.RFC3339),
	}
	orchID, err := r.client.UpsertOrchestration(ctx, record)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(st.Phases))
	for key := range st.Phases {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		ps := st.Phases[key]
		phase := &store.PhaseRecord{
			OrchestrationID: orchID,
			PhaseNumber:     key,
			Status:          string(ps.Status),
		}
		if ps.PlanPath != "" {
			phase.PlanPath = store.StrPtr(ps.PlanPath)
		}
		if ps.GitRange != "" {
			phase.GitRange = store.StrPtr(ps.GitRange)
		}
		if _, err := r.client.UpsertPhase(ctx, phase); err != nil {
			return err
		}
	}
	return nil
}

// VerifyProjection fetches the orchestration detail for a feature and
// checks it against expected phase statuses.
func (r *Runner) VerifyProjection(ctx context.Context, feature string, expectedPhases map[string]string) []Failure {
	entries, err := r.client.ListOrchestrations(ctx)
	if err != nil {
		return []Failure{newFailure(FailureOrchestration, "list orchestrations: %v", err)}
	}

	orchID, err := VerifyOrchestrationExists(entries, feature)
	if err != nil {
		if failure, ok := err.(Failure); ok {
			return []Failure{failure}
		}
		return []Failure{newFailure(FailureOrchestration, "%v", err)}
	}

	detail, err := r.client.GetOrchestrationDetail(ctx, orchID)
	if err != nil {
		return []Failure{newFailure(FailureOrchestration, "get detail: %v", err)}
	}

	return VerifyPhaseStatuses(detail, expectedPhases)
}

// VerifyDaemonRestart restarts the daemon via its pid file and confirms it
// comes back: wait 500ms, then check liveness.
func VerifyDaemonRestart(pidFile string) error {
	if err := daemon.StopBackground(pidFile); err != nil {
		return newFailure(FailureDaemon, "stop daemon: %v", err)
	}
	if _, err := daemon.StartBackground(pidFile); err != nil {
		return newFailure(FailureDaemon, "start daemon: %v", err)
	}

	time.Sleep(daemonRestartWait)

	if _, running := daemon.IsRunning(pidFile); !running {
		return newFailure(FailureDaemon, "daemon not alive %s after restart", daemonRestartWait)
	}
	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/antigravity-dev/tina/internal/config"
	"github.com/antigravity-dev/tina/internal/state"
	"github.com/antigravity-dev/tina/internal/store"
	"github.com/antigravity-dev/tina/internal/telemetry"
)

// storeTimeout bounds one CLI invocation's store round-trips.
const storeTimeout = 15 * time.Second

// orchestrationRecordFromState maps the supervisor state to its store row.
func orchestrationRecordFromState(nodeID string, st *state.SupervisorState) *store.OrchestrationRecord {
	record := &store.OrchestrationRecord{
		NodeID:        nodeID,
		FeatureName:   st.Feature,
		DesignDocPath: st.DesignDoc,
		Branch:        st.Branch,
		WorktreePath:  store.StrPtr(st.WorktreePath),
		TotalPhases:   float64(st.TotalPhases),
		CurrentPhase:  float64(st.CurrentPhase),
		Status:        string(st.Status),
		StartedAt:     st.OrchestrationStartedAt.Format(time.RFC3339),
	}
	if snapshot, err := st.PolicySnapshot(); err == nil {
		record.PolicySnapshot = store.StrPtr(snapshot)
	}
	if st.Timing.TotalMins > 0 {
		record.TotalElapsedMins = store.FloatPtr(st.Timing.TotalMins)
	}
	return record
}

// phaseRecordsFromState maps every phase entry to its store row, in key
// order so writes are deterministic.
func phaseRecordsFromState(orchestrationID string, st *state.SupervisorState) []store.PhaseRecord {
	keys := make([]string, 0, len(st.Phases))
	for key := range st.Phases {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]store.PhaseRecord, 0, len(keys))
	for _, key := range keys {
		ps := st.Phases[key]
		record := store.PhaseRecord{
			OrchestrationID: orchestrationID,
			PhaseNumber:     key,
			Status:          string(ps.Status),
		}
		if ps.PlanPath != "" {
			record.PlanPath = store.StrPtr(ps.PlanPath)
		}
		if ps.GitRange != "" {
			record.GitRange = store.StrPtr(ps.GitRange)
		}
		record.PlanningMins = ps.Breakdown.PlanningMins
		record.ExecutionMins = ps.Breakdown.ExecutionMins
		record.ReviewMins = ps.Breakdown.ReviewMins
		if ps.PlanningStartedAt != nil {
			record.StartedAt = store.StrPtr(ps.PlanningStartedAt.Format(time.RFC3339))
		}
		if ps.CompletedAt != nil {
			record.CompletedAt = store.StrPtr(ps.CompletedAt.Format(time.RFC3339))
		}
		records = append(records, record)
	}
	return records
}

// eventFromAction derives the orchestration event to record for one
// advance: its type, summary, and optional detail JSON.
func eventFromAction(phase string, action *state.Action, event *state.AdvanceEvent) (string, string, *string) {
	detail := func(v map[string]any) *string {
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return store.StrPtr(string(data))
	}

	if event != nil && event.Type == state.EventRetry {
		return "retry",
			fmt.Sprintf("Phase %s retry requested", phase),
			detail(map[string]any{"reason": event.Reason})
	}
	if action == nil {
		return "phase_started", "Orchestration initialized", nil
	}

	switch action.Type {
	case state.ActionSpawnValidator:
		return "phase_started", "Spec validation requested", nil
	case state.ActionSpawnPlanner:
		if phase == "validation" {
			return "phase_started", "Spec validation passed", nil
		}
		return "phase_completed", fmt.Sprintf("Phase %s review passed", phase), nil
	case state.ActionReusePlan:
		if phase == "validation" {
			return "phase_started", "Spec validation passed with warnings",
				detail(map[string]any{"plan_path": action.PlanPath, "phase": action.Phase})
		}
		return "phase_completed",
			fmt.Sprintf("Phase %s planning completed (reused plan)", action.Phase),
			detail(map[string]any{"plan_path": action.PlanPath})
	case state.ActionStopped:
		return "error", fmt.Sprintf("Spec validation failed - %s", action.Reason), nil
	case state.ActionSpawnExecutor:
		return "phase_completed",
			fmt.Sprintf("Phase %s planning completed", action.Phase),
			detail(map[string]any{"plan_path": action.PlanPath})
	case state.ActionSpawnReviewer:
		return "phase_completed",
			fmt.Sprintf("Phase %s execution completed", action.Phase),
			detail(map[string]any{"git_range": action.GitRange})
	case state.ActionFinalize:
		return "phase_completed", fmt.Sprintf("Phase %s review passed - all phases complete", phase), nil
	case state.ActionComplete:
		return "phase_completed", "Orchestration complete", nil
	case state.ActionRemediate:
		return "retry",
			fmt.Sprintf("Phase %s review found gaps", action.Phase),
			detail(map[string]any{"remediation_phase": action.RemediationPhase, "issues": action.Issues})
	case state.ActionError:
		return "error",
			fmt.Sprintf("Phase %s error: %s", action.Phase, action.Reason),
			detail(map[string]any{"retry_count": action.RetryCount, "can_retry": action.CanRetry})
	case state.ActionConsensusDisagreement:
		return "error",
			fmt.Sprintf("Phase %s review consensus disagreement", action.Phase),
			detail(map[string]any{"verdict_1": action.Verdict1, "verdict_2": action.Verdict2, "issues": action.Issues})
	case state.ActionWait:
		return "info", fmt.Sprintf("Waiting: %s", action.Reason), nil
	default:
		return "info", fmt.Sprintf("Phase %s advanced", phase), nil
	}
}

func isErrorAction(action *state.Action) bool {
	if action == nil {
		return false
	}
	switch action.Type {
	case state.ActionError, state.ActionStopped, state.ActionConsensusDisagreement:
		return true
	default:
		return false
	}
}

// withStoreWriter connects to the configured store for the lifetime of one
// CLI invocation.
func withStoreWriter(fn func(ctx context.Context, client *store.Client, nodeID string) error) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	client, err := store.Connect(ctx, cfg.Store.DeploymentURL)
	if err != nil {
		return err
	}
	defer client.Close()

	nodeID, err := client.RegisterNode(ctx, cfg.Store.NodeName, runtime.GOOS, cfg.Store.AuthToken)
	if err != nil {
		return err
	}
	return fn(ctx, client, nodeID)
}

// syncAdvanceToStore upserts the orchestration and all phase rows, records
// the derived orchestration event, and emits telemetry. Best-effort:
// callers log the returned error as a warning.
func syncAdvanceToStore(feature string, st *state.SupervisorState, phase string, action *state.Action, event *state.AdvanceEvent) error {
	return withStoreWriter(func(ctx context.Context, client *store.Client, nodeID string) error {
		orchID, err := client.UpsertOrchestration(ctx, orchestrationRecordFromState(nodeID, st))
		if err != nil {
			return err
		}

		for _, record := range phaseRecordsFromState(orchID, st) {
			if _, err := client.UpsertPhase(ctx, &record); err != nil {
				return err
			}
		}

		var phaseNumber *string
		if phase != "validation" {
			phaseNumber = store.StrPtr(phase)
		}

		eventType, summary, detail := eventFromAction(phase, action, event)
		if _, err := client.RecordEvent(ctx, &store.OrchestrationEventRecord{
			OrchestrationID: orchID,
			PhaseNumber:     phaseNumber,
			EventType:       eventType,
			Source:          "tina-session orchestrate",
			Summary:         summary,
			Detail:          detail,
			RecordedAt:      time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}

		// Store the state blob so the monitor can mirror the file on disk.
		stateJSON, err := json.Marshal(st)
		if err == nil {
			client.UpsertSupervisorState(ctx, &store.SupervisorStateBlob{
				NodeID:    nodeID,
				Feature:   feature,
				StateJSON: string(stateJSON),
				UpdatedAt: time.Now().UTC().Format(time.RFC3339),
			})
		}

		recorder := telemetry.NewRecorder(client, nil, "tina-session", nil)
		span := recorder.StartSpan("orchestrate.advance").
			WithContext(store.StrPtr(orchID), store.StrPtr(feature), phaseNumber)
		spanStatus := "ok"
		if isErrorAction(action) {
			spanStatus = "error"
		}
		recorder.EndSpan(ctx, span, spanStatus, nil, nil)

		attrs, _ := json.Marshal(map[string]any{
			"from_status": st.Status,
			"action":      action,
		})
		recorder.EmitEvent(ctx, span, "state.transition", severityForAction(action), summary, store.StrPtr(string(attrs)))

		return nil
	})
}

func severityForAction(action *state.Action) string {
	if isErrorAction(action) {
		return "error"
	}
	return "info"
}

// Package state holds the supervisor state schema and the orchestration
// state machine that advances it.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion is bumped whenever the on-disk layout changes shape.
const SchemaVersion = 1

// OrchestrationStatus is the overall status of one orchestration run.
type OrchestrationStatus string

const (
	OrchestrationPlanning  OrchestrationStatus = "planning"
	OrchestrationExecuting OrchestrationStatus = "executing"
	OrchestrationReviewing OrchestrationStatus = "reviewing"
	OrchestrationComplete  OrchestrationStatus = "complete"
	OrchestrationBlocked   OrchestrationStatus = "blocked"
)

// PhaseStatus is the status of a single phase.
type PhaseStatus string

const (
	PhasePlanning  PhaseStatus = "planning"
	PhasePlanned   PhaseStatus = "planned"
	PhaseExecuting PhaseStatus = "executing"
	PhaseReviewing PhaseStatus = "reviewing"
	PhaseComplete  PhaseStatus = "complete"
	PhaseBlocked   PhaseStatus = "blocked"
)

// Breakdown holds per-substage durations for one phase, in minutes.
type Breakdown struct {
	PlanningMins  *float64 `json:"planning_mins,omitempty"`
	ExecutionMins *float64 `json:"execution_mins,omitempty"`
	ReviewMins    *float64 `json:"review_mins,omitempty"`
}

// PhaseState tracks one phase (or remediation sub-phase) of an orchestration.
type PhaseState struct {
	Status             PhaseStatus `json:"status"`
	PlanPath           string      `json:"plan_path,omitempty"`
	GitRange           string      `json:"git_range,omitempty"`
	BlockedReason      string      `json:"blocked_reason,omitempty"`
	PlanningStartedAt  *time.Time  `json:"planning_started_at,omitempty"`
	ExecutionStartedAt *time.Time  `json:"execution_started_at,omitempty"`
	ReviewStartedAt    *time.Time  `json:"review_started_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	Breakdown          Breakdown   `json:"breakdown"`
	DurationMins       *float64    `json:"duration_mins,omitempty"`
}

// NewPhaseState returns a fresh phase entry in planning state.
func NewPhaseState() *PhaseState {
	return &PhaseState{Status: PhasePlanning}
}

// Timing aggregates durations across all phases.
type Timing struct {
	PlanningMins  float64 `json:"planning_mins,omitempty"`
	ExecutionMins float64 `json:"execution_mins,omitempty"`
	ReviewMins    float64 `json:"review_mins,omitempty"`
	TotalMins     float64 `json:"total_mins,omitempty"`
}

// ModelPolicy selects a model per orchestration role.
type ModelPolicy struct {
	Validator string `json:"validator"`
	Planner   string `json:"planner"`
	Executor  string `json:"executor"`
	Reviewer  string `json:"reviewer"`
}

// ReviewPolicy is an opaque policy object interpreted only by the agents.
type ReviewPolicy map[string]any

// SupervisorState is the authoritative per-feature orchestration state,
// serialized to <worktree>/.claude/tina/supervisor-state.json.
type SupervisorState struct {
	Version                int                    `json:"version"`
	Feature                string                 `json:"feature"`
	DesignDoc              string                 `json:"design_doc"`
	WorktreePath           string                 `json:"worktree_path"`
	Branch                 string                 `json:"branch"`
	TotalPhases            int                    `json:"total_phases"`
	CurrentPhase           int                    `json:"current_phase"`
	Status                 OrchestrationStatus    `json:"status"`
	OrchestrationStartedAt time.Time              `json:"orchestration_started_at"`
	Phases                 map[string]*PhaseState `json:"phases"`
	Timing                 Timing                 `json:"timing"`
	ModelPolicy            ModelPolicy            `json:"model_policy"`
	ReviewPolicy           ReviewPolicy           `json:"review_policy,omitempty"`
}

// New creates a fresh supervisor state for a feature.
func New(feature, designDoc, worktreePath, branch string, totalPhases int) *SupervisorState {
	return &SupervisorState{
		Version:                SchemaVersion,
		Feature:                feature,
		DesignDoc:              designDoc,
		WorktreePath:           worktreePath,
		Branch:                 branch,
		TotalPhases:            totalPhases,
		CurrentPhase:           0,
		Status:                 OrchestrationPlanning,
		OrchestrationStartedAt: time.Now().UTC(),
		Phases:                 make(map[string]*PhaseState),
		ModelPolicy: ModelPolicy{
			Validator: "opus",
			Planner:   "opus",
			Executor:  "sonnet",
			Reviewer:  "opus",
		},
	}
}

// StatePath returns the supervisor state file location inside a worktree.
func StatePath(worktreePath string) string {
	return filepath.Join(worktreePath, ".claude", "tina", "supervisor-state.json")
}

// PlanReusePath returns the conventional location of a pre-existing plan for
// a phase. If this file exists when planning would start, planning is skipped.
func PlanReusePath(worktreePath, phase string) string {
	return filepath.Join(worktreePath, ".claude", "tina", "phase-"+phase, "plan.md")
}

// Load reads the supervisor state from a worktree.
func Load(worktreePath string) (*SupervisorState, error) {
	path := StatePath(worktreePath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read supervisor state %s: %w", path, err)
	}

	var state SupervisorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse supervisor state %s: %w", path, err)
	}
	if state.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported supervisor state version %d in %s", state.Version, path)
	}
	if state.Phases == nil {
		state.Phases = make(map[string]*PhaseState)
	}
	return &state, nil
}

// Save atomically writes the state to its worktree location
// (write-to-temp then rename).
func (s *SupervisorState) Save() error {
	path := StatePath(s.WorktreePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal supervisor state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".supervisor-state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// EnsurePhase creates a phase entry if it does not exist yet.
func (s *SupervisorState) EnsurePhase(phaseKey string) *PhaseState {
	if ps, ok := s.Phases[phaseKey]; ok {
		return ps
	}
	ps := NewPhaseState()
	s.Phases[phaseKey] = ps
	return ps
}

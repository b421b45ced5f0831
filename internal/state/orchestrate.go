package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ActionType tags the orchestrator's next action.
type ActionType string

const (
	ActionSpawnValidator        ActionType = "spawn_validator"
	ActionSpawnPlanner          ActionType = "spawn_planner"
	ActionSpawnExecutor         ActionType = "spawn_executor"
	ActionSpawnReviewer         ActionType = "spawn_reviewer"
	ActionReusePlan             ActionType = "reuse_plan"
	ActionRemediate             ActionType = "remediate"
	ActionFinalize              ActionType = "finalize"
	ActionComplete              ActionType = "complete"
	ActionStopped               ActionType = "stopped"
	ActionError                 ActionType = "error"
	ActionWait                  ActionType = "wait"
	ActionConsensusDisagreement ActionType = "consensus_disagreement"
)

// Action is the state machine's decision for what the caller should do next.
// Only the fields relevant to the tagged type are populated.
type Action struct {
	Type             ActionType `json:"action"`
	Phase            string     `json:"phase,omitempty"`
	PlanPath         string     `json:"plan_path,omitempty"`
	GitRange         string     `json:"git_range,omitempty"`
	RemediationPhase string     `json:"remediation_phase,omitempty"`
	Issues           []string   `json:"issues,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	RetryCount       int        `json:"retry_count,omitempty"`
	CanRetry         *bool      `json:"can_retry,omitempty"`
	Verdict1         string     `json:"verdict_1,omitempty"`
	Verdict2         string     `json:"verdict_2,omitempty"`
}

// EventType tags a phase event fed to AdvanceState.
type EventType string

const (
	EventValidationPass    EventType = "validation_pass"
	EventValidationWarning EventType = "validation_warning"
	EventValidationStop    EventType = "validation_stop"
	EventPlanComplete      EventType = "plan_complete"
	EventExecuteStarted    EventType = "execute_started"
	EventExecuteComplete   EventType = "execute_complete"
	EventReviewPass        EventType = "review_pass"
	EventReviewGaps        EventType = "review_gaps"
	EventRetry             EventType = "retry"
	EventError             EventType = "error"
)

// AdvanceEvent carries one phase event and its payload.
type AdvanceEvent struct {
	Type     EventType
	PlanPath string
	GitRange string
	Issues   []string
	Reason   string
}

// PhaseNotFoundError reports an advance against a phase absent from state.
type PhaseNotFoundError struct {
	Phase string
}

func (e *PhaseNotFoundError) Error() string {
	return fmt.Sprintf("phase %q not found in supervisor state", e.Phase)
}

// maxRemediationDepth bounds how many .5 suffixes a phase key may carry.
const maxRemediationDepth = 2

func boolPtr(v bool) *bool { return &v }

// NextAction determines what to do next from the current state without
// mutating it. Phases are examined in order; the first one that needs work
// decides the action.
func NextAction(s *SupervisorState) Action {
	if s.Status == OrchestrationComplete {
		return Action{Type: ActionComplete}
	}

	for phaseNum := 1; phaseNum <= s.TotalPhases; phaseNum++ {
		key := strconv.Itoa(phaseNum)

		ps, ok := s.Phases[key]
		if !ok {
			if phaseNum == 1 {
				return Action{Type: ActionSpawnValidator}
			}
			prevKey := strconv.Itoa(phaseNum - 1)
			prev, prevOK := s.Phases[prevKey]
			prevComplete := prevOK && prev.Status == PhaseComplete
			if prevComplete && remediationsComplete(s, phaseNum-1) {
				return Action{Type: ActionSpawnPlanner, Phase: key}
			}
			// Previous phase is still in flight.
			break
		}

		switch ps.Status {
		case PhasePlanning:
			return Action{Type: ActionSpawnPlanner, Phase: key}
		case PhasePlanned, PhaseExecuting:
			return Action{Type: ActionSpawnExecutor, Phase: key, PlanPath: ps.PlanPath}
		case PhaseReviewing:
			return Action{Type: ActionSpawnReviewer, Phase: key, GitRange: ps.GitRange}
		case PhaseBlocked:
			reason := ps.BlockedReason
			if reason == "" {
				reason = "unknown"
			}
			return Action{Type: ActionError, Phase: key, Reason: reason, CanRetry: boolPtr(true)}
		case PhaseComplete:
			if !remediationsComplete(s, phaseNum) {
				return remediationAction(s, phaseNum)
			}
		}
	}

	return Action{Type: ActionFinalize}
}

// AdvanceState records a phase event, updates the state in place, and returns
// the action the caller must now perform. The update is deterministic apart
// from timestamps taken at the moment of the call.
func AdvanceState(s *SupervisorState, phase string, event AdvanceEvent) (Action, error) {
	now := time.Now().UTC()

	switch event.Type {
	case EventValidationPass, EventValidationWarning:
		return advanceValidationPass(s, now), nil

	case EventValidationStop:
		s.Status = OrchestrationBlocked
		return Action{Type: ActionStopped, Reason: "Design validation failed"}, nil

	case EventPlanComplete:
		ps, ok := s.Phases[phase]
		if !ok {
			return Action{}, &PhaseNotFoundError{Phase: phase}
		}
		planPath, err := ResolvePlanPath(event.PlanPath, s.WorktreePath)
		if err != nil {
			return Action{}, err
		}
		ps.PlanPath = planPath
		ps.Status = PhasePlanned
		if ps.PlanningStartedAt != nil {
			mins := durationMins(*ps.PlanningStartedAt, now)
			ps.Breakdown.PlanningMins = &mins
		}
		return Action{Type: ActionSpawnExecutor, Phase: phase, PlanPath: planPath}, nil

	case EventExecuteStarted:
		ps, ok := s.Phases[phase]
		if !ok {
			return Action{}, &PhaseNotFoundError{Phase: phase}
		}
		ps.Status = PhaseExecuting
		ps.ExecutionStartedAt = &now
		s.Status = OrchestrationExecuting
		return Action{Type: ActionWait, Reason: fmt.Sprintf("phase %s executing", phase)}, nil

	case EventExecuteComplete:
		ps, ok := s.Phases[phase]
		if !ok {
			return Action{}, &PhaseNotFoundError{Phase: phase}
		}
		ps.GitRange = event.GitRange
		ps.Status = PhaseReviewing
		if ps.ExecutionStartedAt != nil {
			mins := durationMins(*ps.ExecutionStartedAt, now)
			ps.Breakdown.ExecutionMins = &mins
		}
		ps.ReviewStartedAt = &now
		s.Status = OrchestrationReviewing
		if num, err := strconv.Atoi(phase); err == nil {
			s.CurrentPhase = num
		}
		return Action{Type: ActionSpawnReviewer, Phase: phase, GitRange: event.GitRange}, nil

	case EventReviewPass:
		return advanceReviewPass(s, phase, now)

	case EventReviewGaps:
		return advanceReviewGaps(s, phase, event.Issues, now)

	case EventRetry:
		// Acknowledged without a state change; re-derive the pending action.
		return NextAction(s), nil

	case EventError:
		if ps, ok := s.Phases[phase]; ok {
			ps.Status = PhaseBlocked
			ps.BlockedReason = event.Reason
		}
		s.Status = OrchestrationBlocked
		return Action{
			Type:     ActionError,
			Phase:    phase,
			Reason:   event.Reason,
			CanRetry: boolPtr(true),
		}, nil

	default:
		return Action{}, fmt.Errorf("unknown event type %q", event.Type)
	}
}

func advanceValidationPass(s *SupervisorState, now time.Time) Action {
	const phaseKey = "1"
	ps := s.EnsurePhase(phaseKey)
	ps.PlanningStartedAt = &now
	ps.Status = PhasePlanning
	s.Status = OrchestrationPlanning
	s.CurrentPhase = 1

	if action, ok := tryReusePlan(s, ps, phaseKey, now); ok {
		return action
	}
	return Action{Type: ActionSpawnPlanner, Phase: phaseKey}
}

func advanceReviewPass(s *SupervisorState, phase string, now time.Time) (Action, error) {
	ps, ok := s.Phases[phase]
	if !ok {
		return Action{}, &PhaseNotFoundError{Phase: phase}
	}

	ps.Status = PhaseComplete
	ps.CompletedAt = &now
	if ps.ReviewStartedAt != nil {
		mins := durationMins(*ps.ReviewStartedAt, now)
		ps.Breakdown.ReviewMins = &mins
	}
	if ps.PlanningStartedAt != nil {
		mins := durationMins(*ps.PlanningStartedAt, now)
		ps.DurationMins = &mins
	}
	aggregateTiming(s, ps)

	next, ok := nextMainPhase(phase, s.TotalPhases)
	if !ok {
		s.Status = OrchestrationComplete
		return Action{Type: ActionFinalize}, nil
	}

	nextKey := strconv.Itoa(next)
	ns := s.EnsurePhase(nextKey)
	ns.PlanningStartedAt = &now
	ns.Status = PhasePlanning
	s.Status = OrchestrationPlanning
	s.CurrentPhase = next

	if action, ok := tryReusePlan(s, ns, nextKey, now); ok {
		return action, nil
	}
	return Action{Type: ActionSpawnPlanner, Phase: nextKey}, nil
}

func advanceReviewGaps(s *SupervisorState, phase string, issues []string, now time.Time) (Action, error) {
	ps, ok := s.Phases[phase]
	if !ok {
		return Action{}, &PhaseNotFoundError{Phase: phase}
	}

	// The review cycle for this phase is done even though gaps were found;
	// the remediation sub-phase carries the follow-up work.
	ps.Status = PhaseComplete
	ps.CompletedAt = &now
	if ps.ReviewStartedAt != nil {
		mins := durationMins(*ps.ReviewStartedAt, now)
		ps.Breakdown.ReviewMins = &mins
	}

	remediationPhase := phase + ".5"
	depth := RemediationDepth(remediationPhase)
	if depth > maxRemediationDepth {
		return Action{
			Type:       ActionError,
			Phase:      phase,
			Reason:     fmt.Sprintf("Phase %s has failed review after %d remediation attempts", phase, maxRemediationDepth),
			RetryCount: depth,
			CanRetry:   boolPtr(false),
		}, nil
	}

	rs := s.EnsurePhase(remediationPhase)
	rs.PlanningStartedAt = &now
	rs.Status = PhasePlanning
	s.Status = OrchestrationPlanning

	return Action{
		Type:             ActionRemediate,
		Phase:            phase,
		RemediationPhase: remediationPhase,
		Issues:           issues,
	}, nil
}

// tryReusePlan marks a phase planned when a pre-existing plan file is found
// at the conventional location, returning the ReusePlan action.
func tryReusePlan(s *SupervisorState, ps *PhaseState, phaseKey string, now time.Time) (Action, bool) {
	planFile := PlanReusePath(s.WorktreePath, phaseKey)
	if _, err := os.Stat(planFile); err != nil {
		return Action{}, false
	}
	ps.PlanPath = planFile
	ps.Status = PhasePlanned
	if ps.PlanningStartedAt != nil {
		mins := durationMins(*ps.PlanningStartedAt, now)
		ps.Breakdown.PlanningMins = &mins
	}
	return Action{Type: ActionReusePlan, Phase: phaseKey, PlanPath: planFile}, true
}

func aggregateTiming(s *SupervisorState, ps *PhaseState) {
	if ps.Breakdown.PlanningMins != nil {
		s.Timing.PlanningMins += *ps.Breakdown.PlanningMins
	}
	if ps.Breakdown.ExecutionMins != nil {
		s.Timing.ExecutionMins += *ps.Breakdown.ExecutionMins
	}
	if ps.Breakdown.ReviewMins != nil {
		s.Timing.ReviewMins += *ps.Breakdown.ReviewMins
	}
	if ps.DurationMins != nil {
		s.Timing.TotalMins += *ps.DurationMins
	}
}

// nextMainPhase computes the next main phase after the given key.
// Remediation keys advance past their integer prefix: "1.5" -> 2.
func nextMainPhase(phase string, totalPhases int) (int, bool) {
	base, err := strconv.Atoi(strings.SplitN(phase, ".", 2)[0])
	if err != nil {
		base = 0
	}
	next := base + 1
	if next <= totalPhases {
		return next, true
	}
	return 0, false
}

// RemediationDepth counts the .5 suffixes of a phase key:
// "1" -> 0, "1.5" -> 1, "1.5.5" -> 2.
func RemediationDepth(phase string) int {
	return strings.Count(phase, ".5")
}

// remediationsComplete reports whether every remediation sub-phase of a main
// phase is complete. Remediations are discovered by key prefix; no
// parent/child links are stored.
func remediationsComplete(s *SupervisorState, phaseNum int) bool {
	prefix := strconv.Itoa(phaseNum) + "."
	for key, ps := range s.Phases {
		if strings.HasPrefix(key, prefix) && ps.Status != PhaseComplete {
			return false
		}
	}
	return true
}

// remediationAction dispatches the first incomplete remediation of a phase.
func remediationAction(s *SupervisorState, phaseNum int) Action {
	prefix := strconv.Itoa(phaseNum) + "."

	keys := make([]string, 0, len(s.Phases))
	for key := range s.Phases {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		ps := s.Phases[key]
		switch ps.Status {
		case PhasePlanning:
			return Action{Type: ActionSpawnPlanner, Phase: key}
		case PhasePlanned, PhaseExecuting:
			return Action{Type: ActionSpawnExecutor, Phase: key, PlanPath: ps.PlanPath}
		case PhaseReviewing:
			return Action{Type: ActionSpawnReviewer, Phase: key, GitRange: ps.GitRange}
		case PhaseBlocked:
			reason := ps.BlockedReason
			if reason == "" {
				reason = "unknown"
			}
			return Action{Type: ActionError, Phase: key, Reason: reason, CanRetry: boolPtr(true)}
		}
	}
	return Action{Type: ActionFinalize}
}

// ResolvePlanPath normalizes a plan path and rejects anything outside the
// worktree's docs/plans directory. Relative paths resolve against the
// worktree root. The file must exist.
func ResolvePlanPath(planPath, worktreePath string) (string, error) {
	candidate := planPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(worktreePath, candidate)
	}

	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("invalid plan path %q: %w", candidate, err)
	}
	canonicalWorktree, err := filepath.EvalSymlinks(worktreePath)
	if err != nil {
		return "", fmt.Errorf("invalid worktree path %q: %w", worktreePath, err)
	}

	rel, err := filepath.Rel(canonicalWorktree, canonical)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("plan path %q is outside orchestration worktree %q", canonical, canonicalWorktree)
	}

	plansDir := filepath.Join(canonicalWorktree, "docs", "plans")
	relPlans, err := filepath.Rel(plansDir, canonical)
	if err != nil || strings.HasPrefix(relPlans, "..") {
		return "", fmt.Errorf("plan path %q must be under %q", canonical, plansDir)
	}

	return canonical, nil
}

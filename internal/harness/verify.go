// Package harness drives scripted orchestration scenarios end to end and
// verifies the state the daemon and CLI projected into the store.
package harness

import (
	"fmt"
	"strings"

	"github.com/antigravity-dev/tina/internal/store"
)

// FailureCategory buckets a verification failure for reporting.
type FailureCategory string

const (
	FailureOrchestration FailureCategory = "orchestration"
	FailurePhase         FailureCategory = "phase"
	FailureTask          FailureCategory = "task"
	FailureTeamMember    FailureCategory = "team_member"
	FailureDaemon        FailureCategory = "daemon"
)

// Failure is one categorized verification failure.
type Failure struct {
	Category FailureCategory
	Message  string
}

func (f Failure) Error() string {
	return fmt.Sprintf("[%s] %s", f.Category, f.Message)
}

func newFailure(category FailureCategory, format string, args ...any) Failure {
	return Failure{Category: category, Message: fmt.Sprintf(format, args...)}
}

// FindOrchestrationByFeature finds the most recent orchestration for a
// feature. Harness runs append a timestamp suffix to feature names, so an
// exact match or a "{feature}-" prefix both count; among matches the one
// with the latest started_at wins. Non-harness code should pass the exact
// feature name.
func FindOrchestrationByFeature(entries []store.OrchestrationListEntry, featureName string) *store.OrchestrationListEntry {
	var best *store.OrchestrationListEntry
	for i := range entries {
		name := entries[i].Record.FeatureName
		if name != featureName && !strings.HasPrefix(name, featureName+"-") {
			continue
		}
		if best == nil || entries[i].Record.StartedAt > best.Record.StartedAt {
			best = &entries[i]
		}
	}
	return best
}

// VerifyOrchestrationExists returns the orchestration id for a feature or
// a categorized failure listing what is available.
func VerifyOrchestrationExists(entries []store.OrchestrationListEntry, featureName string) (string, error) {
	if entry := FindOrchestrationByFeature(entries, featureName); entry != nil {
		return entry.ID, nil
	}
	available := make([]string, 0, len(entries))
	for _, entry := range entries {
		available = append(available, entry.Record.FeatureName)
	}
	return "", newFailure(FailureOrchestration,
		"orchestration not found for feature %q. Available: %v", featureName, available)
}

// VerifyPhaseStatuses checks that every expected phase row exists with the
// expected status.
func VerifyPhaseStatuses(detail *store.OrchestrationDetailResponse, expected map[string]string) []Failure {
	var failures []Failure

	byPhase := make(map[string]store.PhaseRecord, len(detail.Phases))
	for _, phase := range detail.Phases {
		byPhase[phase.PhaseNumber] = phase
	}

	for phaseNumber, wantStatus := range expected {
		phase, ok := byPhase[phaseNumber]
		if !ok {
			failures = append(failures, newFailure(FailurePhase, "phase %s missing from store", phaseNumber))
			continue
		}
		if phase.Status != wantStatus {
			failures = append(failures, newFailure(FailurePhase,
				"phase %s status = %q, want %q", phaseNumber, phase.Status, wantStatus))
		}
	}
	return failures
}

// CountPhaseTasks counts tasks scoped to a phase (phase_number present).
func CountPhaseTasks(detail *store.OrchestrationDetailResponse) int {
	count := 0
	for _, task := range detail.Tasks {
		if task.PhaseNumber != nil {
			count++
		}
	}
	return count
}

// HasMarkdownTask reports whether any task description looks like markdown.
func HasMarkdownTask(detail *store.OrchestrationDetailResponse) bool {
	markers := []string{"```", "# ", "## ", "- [ ]", "- [x]", "* ", "1. "}
	for _, task := range detail.Tasks {
		if task.Description == nil {
			continue
		}
		text := strings.TrimSpace(*task.Description)
		if text == "" {
			continue
		}
		for _, marker := range markers {
			if strings.Contains(text, marker) {
				return true
			}
		}
	}
	return false
}

// VerifyTeamMembers checks that all expected agents are projected.
func VerifyTeamMembers(detail *store.OrchestrationDetailResponse, phaseNumber string, expectedNames []string) []Failure {
	present := make(map[string]bool)
	for _, member := range detail.TeamMembers {
		if member.PhaseNumber == phaseNumber {
			present[member.AgentName] = true
		}
	}

	var failures []Failure
	for _, name := range expectedNames {
		if !present[name] {
			failures = append(failures, newFailure(FailureTeamMember,
				"agent %q missing from phase %s team", name, phaseNumber))
		}
	}
	return failures
}

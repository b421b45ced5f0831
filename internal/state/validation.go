package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/antigravity-dev/tina/internal/session"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue points at one problem in a state artifact.
type ValidationIssue struct {
	Path     string   `json:"path"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// ValidationResult collects issues from one or more artifacts.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues"`
}

// IsValid reports whether no error-severity issues were found.
func (r ValidationResult) IsValid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *ValidationResult) addError(path, field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Field: field, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) addWarning(path, field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Field: field, Message: message, Severity: SeverityWarning})
}

// Merge appends another result's issues.
func (r *ValidationResult) Merge(other ValidationResult) {
	r.Issues = append(r.Issues, other.Issues...)
}

// ValidateSupervisorState structurally validates a supervisor-state.json.
func ValidateSupervisorState(path string) ValidationResult {
	var result ValidationResult

	data, err := os.ReadFile(path)
	if err != nil {
		result.addError(path, "file", fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	var st SupervisorState
	if err := json.Unmarshal(data, &st); err != nil {
		result.addError(path, "json", fmt.Sprintf("invalid JSON: %v", err))
		return result
	}

	if st.Version == 0 {
		result.addWarning(path, "version", "version is 0, expected 1 or higher")
	}
	if st.Feature == "" {
		result.addError(path, "feature", "feature name is empty")
	}
	if st.TotalPhases == 0 {
		result.addError(path, "total_phases", "total phases is 0")
	}
	if st.CurrentPhase == 0 {
		result.addError(path, "current_phase", "current phase is 0 (phases are 1-indexed)")
	}
	if st.CurrentPhase > st.TotalPhases {
		result.addError(path, "current_phase", fmt.Sprintf(
			"current phase %d exceeds total phases %d", st.CurrentPhase, st.TotalPhases))
	}

	if _, err := os.Stat(st.DesignDoc); err != nil {
		result.addWarning(path, "design_doc", fmt.Sprintf("design doc does not exist: %s", st.DesignDoc))
	}
	if _, err := os.Stat(st.WorktreePath); err != nil {
		result.addWarning(path, "worktree_path", fmt.Sprintf("worktree path does not exist: %s", st.WorktreePath))
	}

	for key, phase := range st.Phases {
		if err := session.ValidatePhase(key); err != nil {
			result.addError(path, "phases."+key, err.Error())
		}
		if phase.PlanPath != "" {
			if _, err := os.Stat(phase.PlanPath); err != nil {
				result.addWarning(path, "phases."+key+".plan_path",
					fmt.Sprintf("plan path does not exist: %s", phase.PlanPath))
			}
		}
	}

	return result
}

// ValidateTeam structurally validates a team config.json.
func ValidateTeam(path string) ValidationResult {
	var result ValidationResult

	data, err := os.ReadFile(path)
	if err != nil {
		result.addError(path, "file", fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	var team Team
	if err := json.Unmarshal(data, &team); err != nil {
		result.addError(path, "json", fmt.Sprintf("invalid JSON: %v", err))
		return result
	}

	if team.Name == "" {
		result.addError(path, "name", "team name is empty")
	}
	if team.LeadAgentID == "" {
		result.addError(path, "leadAgentId", "lead agent ID is empty")
	}

	for i, member := range team.Members {
		if member.AgentID == "" {
			result.addError(path, fmt.Sprintf("members[%d].agentId", i), "agent ID is empty")
		}
		if member.Name == "" {
			result.addError(path, fmt.Sprintf("members[%d].name", i), "agent name is empty")
		}
		if member.Model == "" {
			result.addWarning(path, fmt.Sprintf("members[%d].model", i), "agent model is empty")
		}
	}

	return result
}

// ValidateTask structurally validates one task JSON file.
func ValidateTask(path string) ValidationResult {
	var result ValidationResult

	data, err := os.ReadFile(path)
	if err != nil {
		result.addError(path, "file", fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		result.addError(path, "json", fmt.Sprintf("invalid JSON: %v", err))
		return result
	}

	if task.ID == "" {
		result.addError(path, "id", "task ID is empty")
	}
	if task.Subject == "" {
		result.addError(path, "subject", "task subject is empty")
	}

	return result
}

// ValidateTinaDirectory validates a worktree's .claude/tina directory.
func ValidateTinaDirectory(path string) ValidationResult {
	var result ValidationResult

	info, err := os.Stat(path)
	if err != nil {
		result.addError(path, "directory", "tina directory does not exist")
		return result
	}
	if !info.IsDir() {
		result.addError(path, "directory", "path is not a directory")
		return result
	}

	statePath := filepath.Join(path, "supervisor-state.json")
	if _, err := os.Stat(statePath); err == nil {
		result.Merge(ValidateSupervisorState(statePath))
	} else {
		result.addWarning(path, "supervisor-state.json", "supervisor state file not found")
	}

	return result
}

package state

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Roles that accept a per-role model override.
var validRoles = []string{"validator", "planner", "executor", "reviewer"}

// SetModelPolicy replaces the whole model policy object.
func (s *SupervisorState) SetModelPolicy(raw json.RawMessage) error {
	var policy ModelPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("invalid model policy JSON: %w", err)
	}
	s.ModelPolicy = policy
	return nil
}

// SetReviewPolicy replaces the whole review policy object. The state machine
// never interprets it; only the agents do.
func (s *SupervisorState) SetReviewPolicy(raw json.RawMessage) error {
	var policy ReviewPolicy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return fmt.Errorf("invalid review policy JSON: %w", err)
	}
	s.ReviewPolicy = policy
	return nil
}

// SetRoleModel updates the model for a single role. The model string must be
// non-empty, at most 50 characters, and free of backticks.
func (s *SupervisorState) SetRoleModel(role, model string) error {
	valid := false
	for _, r := range validRoles {
		if role == r {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid role %q; allowed: %s", role, strings.Join(validRoles, ", "))
	}

	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("invalid model: value must not be empty")
	}
	if strings.Contains(model, "`") {
		return fmt.Errorf("invalid model: value must not contain backticks")
	}
	if len(model) > 50 {
		return fmt.Errorf("invalid model: value must be 50 characters or fewer")
	}

	switch role {
	case "validator":
		s.ModelPolicy.Validator = model
	case "planner":
		s.ModelPolicy.Planner = model
	case "executor":
		s.ModelPolicy.Executor = model
	case "reviewer":
		s.ModelPolicy.Reviewer = model
	}
	return nil
}

// PolicySnapshot renders the combined policy as opaque JSON for the
// orchestration record.
func (s *SupervisorState) PolicySnapshot() (string, error) {
	snapshot := map[string]any{
		"model_policy":  s.ModelPolicy,
		"review_policy": s.ReviewPolicy,
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal policy snapshot: %w", err)
	}
	return string(data), nil
}

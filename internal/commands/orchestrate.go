package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/state"
)

func newOrchestrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrate",
		Short: "Orchestration state machine subcommands",
	}
	cmd.AddCommand(newOrchestrateNextCmd())
	cmd.AddCommand(newOrchestrateAdvanceCmd())
	cmd.AddCommand(newOrchestrateSetPolicyCmd())
	cmd.AddCommand(newOrchestrateSetRoleModelCmd())
	cmd.AddCommand(newOrchestrateTaskEditCmd())
	cmd.AddCommand(newOrchestrateTaskInsertCmd())
	cmd.AddCommand(newOrchestrateTaskSetModelCmd())
	return cmd
}

func newOrchestrateNextCmd() *cobra.Command {
	var feature string

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Determine the next action based on current orchestration state",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}
			action := state.NextAction(st)
			return printJSON(action)
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.MarkFlagRequired("feature")
	return cmd
}

func newOrchestrateAdvanceCmd() *cobra.Command {
	var (
		feature  string
		phase    string
		event    string
		planPath string
		gitRange string
		issues   string
	)

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Record a phase event and get the next action",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase != "validation" {
				if err := checkPhase(phase); err != nil {
					return err
				}
			}

			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			advanceEvent, err := parseEvent(event, planPath, gitRange, issues)
			if err != nil {
				return err
			}

			action, err := state.AdvanceState(st, phase, advanceEvent)
			if err != nil {
				return err
			}

			if err := st.Save(); err != nil {
				return err
			}

			if err := syncAdvanceToStore(feature, st, phase, &action, &advanceEvent); err != nil {
				warn("failed to sync to store: %v", err)
			}

			return printJSON(action)
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", `phase identifier (e.g. "1", "2", "1.5")`)
	cmd.Flags().StringVar(&event, "event", "", "event type: validation_pass, validation_warning, validation_stop, plan_complete, execute_started, execute_complete, review_pass, review_gaps, retry, error")
	cmd.Flags().StringVar(&planPath, "plan-path", "", "plan path (required for plan_complete)")
	cmd.Flags().StringVar(&gitRange, "git-range", "", "git range (required for execute_complete)")
	cmd.Flags().StringVar(&issues, "issues", "", "issues or error reason (comma-separated for review_gaps)")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("event")
	return cmd
}

// parseEvent maps CLI event flags to an AdvanceEvent, enforcing the
// per-event payload requirements.
func parseEvent(event, planPath, gitRange, issues string) (state.AdvanceEvent, error) {
	switch event {
	case "plan_complete":
		if planPath == "" {
			return state.AdvanceEvent{}, fmt.Errorf("--plan-path is required for plan_complete event")
		}
		return state.AdvanceEvent{Type: state.EventPlanComplete, PlanPath: planPath}, nil

	case "execute_started":
		return state.AdvanceEvent{Type: state.EventExecuteStarted}, nil

	case "execute_complete":
		if gitRange == "" {
			return state.AdvanceEvent{}, fmt.Errorf("--git-range is required for execute_complete event")
		}
		return state.AdvanceEvent{Type: state.EventExecuteComplete, GitRange: gitRange}, nil

	case "review_pass":
		return state.AdvanceEvent{Type: state.EventReviewPass}, nil

	case "review_gaps":
		var issueList []string
		for _, issue := range strings.Split(issues, ",") {
			if trimmed := strings.TrimSpace(issue); trimmed != "" {
				issueList = append(issueList, trimmed)
			}
		}
		return state.AdvanceEvent{Type: state.EventReviewGaps, Issues: issueList}, nil

	case "retry":
		reason := issues
		if reason == "" {
			reason = "manual retry"
		}
		return state.AdvanceEvent{Type: state.EventRetry, Reason: reason}, nil

	case "validation_pass":
		return state.AdvanceEvent{Type: state.EventValidationPass}, nil
	case "validation_warning":
		return state.AdvanceEvent{Type: state.EventValidationWarning}, nil
	case "validation_stop":
		return state.AdvanceEvent{Type: state.EventValidationStop}, nil

	case "error":
		reason := issues
		if reason == "" {
			reason = "unknown error"
		}
		return state.AdvanceEvent{Type: state.EventError, Reason: reason}, nil

	default:
		return state.AdvanceEvent{}, fmt.Errorf(
			"unknown event %q. Valid events: plan_complete, execute_complete, execute_started, "+
				"review_pass, review_gaps, retry, validation_pass, validation_warning, validation_stop, error",
			event)
	}
}

func newOrchestrateSetPolicyCmd() *cobra.Command {
	var (
		feature    string
		modelJSON  string
		reviewJSON string
	)

	cmd := &cobra.Command{
		Use:   "set-policy",
		Short: "Update model and/or review policy for future work",
		RunE: func(cmd *cobra.Command, args []string) error {
			if modelJSON == "" && reviewJSON == "" {
				return fmt.Errorf("at least one of --model-json or --review-json is required")
			}

			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			if modelJSON != "" {
				if err := st.SetModelPolicy(json.RawMessage(modelJSON)); err != nil {
					return err
				}
			}
			if reviewJSON != "" {
				if err := st.SetReviewPolicy(json.RawMessage(reviewJSON)); err != nil {
					return err
				}
			}
			if err := st.Save(); err != nil {
				return err
			}

			return printJSON(map[string]any{
				"success":       true,
				"model_policy":  st.ModelPolicy,
				"review_policy": st.ReviewPolicy,
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&modelJSON, "model-json", "", "whole model policy object as JSON")
	cmd.Flags().StringVar(&reviewJSON, "review-json", "", "whole review policy object as JSON")
	cmd.MarkFlagRequired("feature")
	return cmd
}

func newOrchestrateSetRoleModelCmd() *cobra.Command {
	var (
		feature string
		role    string
		model   string
	)

	cmd := &cobra.Command{
		Use:   "set-role-model",
		Short: "Update the model for a single role",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}
			if err := st.SetRoleModel(role, model); err != nil {
				return err
			}
			if err := st.Save(); err != nil {
				return err
			}

			return printJSON(map[string]any{
				"success":      true,
				"role":         role,
				"model":        strings.TrimSpace(model),
				"model_policy": st.ModelPolicy,
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&role, "role", "", "one of validator, planner, executor, reviewer")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("role")
	cmd.MarkFlagRequired("model")
	return cmd
}

// Task mutations are applied in the store by the monitor; these commands
// acknowledge them so skills get a uniform JSON response.

func newOrchestrateTaskEditCmd() *cobra.Command {
	var (
		feature     string
		phase       string
		taskNumber  int
		revision    int
		subject     string
		description string
		model       string
	)

	cmd := &cobra.Command{
		Use:   "task-edit",
		Short: "Acknowledge a task edit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			return printJSON(map[string]any{
				"success":     true,
				"action":      "task_edit",
				"feature":     feature,
				"phase":       phase,
				"task_number": taskNumber,
				"revision":    revision,
				"subject":     optional(subject),
				"description": optional(description),
				"model":       optional(model),
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().IntVar(&taskNumber, "task-number", 0, "task number")
	cmd.Flags().IntVar(&revision, "revision", 0, "task revision")
	cmd.Flags().StringVar(&subject, "subject", "", "new subject")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&model, "model", "", "new model")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("task-number")
	cmd.MarkFlagRequired("revision")
	return cmd
}

func newOrchestrateTaskInsertCmd() *cobra.Command {
	var (
		feature   string
		phase     string
		afterTask int
		subject   string
		model     string
		dependsOn string
	)

	cmd := &cobra.Command{
		Use:   "task-insert",
		Short: "Acknowledge a task insertion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			return printJSON(map[string]any{
				"success":    true,
				"action":     "task_insert",
				"feature":    feature,
				"phase":      phase,
				"after_task": afterTask,
				"subject":    subject,
				"model":      optional(model),
				"depends_on": optional(dependsOn),
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().IntVar(&afterTask, "after-task", 0, "insert after this task number")
	cmd.Flags().StringVar(&subject, "subject", "", "task subject")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().StringVar(&dependsOn, "depends-on", "", "comma-separated dependency task numbers")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newOrchestrateTaskSetModelCmd() *cobra.Command {
	var (
		feature    string
		phase      string
		taskNumber int
		revision   int
		model      string
	)

	cmd := &cobra.Command{
		Use:   "task-set-model",
		Short: "Acknowledge a task model override",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			return printJSON(map[string]any{
				"success":     true,
				"action":      "task_set_model",
				"feature":     feature,
				"phase":       phase,
				"task_number": taskNumber,
				"revision":    revision,
				"model":       model,
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().IntVar(&taskNumber, "task-number", 0, "task number")
	cmd.Flags().IntVar(&revision, "revision", 0, "task revision")
	cmd.Flags().StringVar(&model, "model", "", "model name")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("task-number")
	cmd.MarkFlagRequired("revision")
	cmd.MarkFlagRequired("model")
	return cmd
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/state"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "State management subcommands",
	}
	cmd.AddCommand(newStateUpdateCmd())
	cmd.AddCommand(newStatePhaseCompleteCmd())
	cmd.AddCommand(newStateBlockedCmd())
	cmd.AddCommand(newStateShowCmd())
	return cmd
}

var validPhaseStatuses = map[string]state.PhaseStatus{
	"planning":  state.PhasePlanning,
	"planned":   state.PhasePlanned,
	"executing": state.PhaseExecuting,
	"reviewing": state.PhaseReviewing,
	"complete":  state.PhaseComplete,
	"blocked":   state.PhaseBlocked,
}

func newStateUpdateCmd() *cobra.Command {
	var (
		feature  string
		phase    string
		status   string
		planPath string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update phase status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			phaseStatus, ok := validPhaseStatuses[status]
			if !ok {
				return fmt.Errorf("invalid status %q: expected planning, planned, executing, reviewing, complete, or blocked", status)
			}

			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			ps := st.EnsurePhase(phase)
			ps.Status = phaseStatus
			if planPath != "" {
				resolved, err := state.ResolvePlanPath(planPath, st.WorktreePath)
				if err != nil {
					return err
				}
				ps.PlanPath = resolved
			}
			if err := st.Save(); err != nil {
				return err
			}

			return printJSON(map[string]any{"phase": phase, "status": status})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&planPath, "plan-path", "", "plan path (for planning phase)")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("status")
	return cmd
}

func newStatePhaseCompleteCmd() *cobra.Command {
	var (
		feature  string
		phase    string
		gitRange string
	)

	cmd := &cobra.Command{
		Use:   "phase-complete",
		Short: "Record phase completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			event := state.AdvanceEvent{Type: state.EventExecuteComplete, GitRange: gitRange}
			action, err := state.AdvanceState(st, phase, event)
			if err != nil {
				return err
			}
			if err := st.Save(); err != nil {
				return err
			}
			if err := syncAdvanceToStore(feature, st, phase, &action, &event); err != nil {
				warn("failed to sync to store: %v", err)
			}
			return printJSON(action)
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().StringVar(&gitRange, "git-range", "", "git range (e.g. abc123..def456)")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("git-range")
	return cmd
}

func newStateBlockedCmd() *cobra.Command {
	var (
		feature string
		phase   string
		reason  string
	)

	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "Record blocked state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			event := state.AdvanceEvent{Type: state.EventError, Reason: reason}
			action, err := state.AdvanceState(st, phase, event)
			if err != nil {
				return err
			}
			if err := st.Save(); err != nil {
				return err
			}
			if err := syncAdvanceToStore(feature, st, phase, &action, &event); err != nil {
				warn("failed to sync to store: %v", err)
			}
			return printJSON(action)
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for being blocked")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newStateShowCmd() *cobra.Command {
	var (
		feature string
		phase   string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phase != "" {
				if err := checkPhase(phase); err != nil {
					return err
				}
			}

			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			if phase != "" {
				ps, ok := st.Phases[phase]
				if !ok {
					return fmt.Errorf("phase %q not found in supervisor state", phase)
				}
				if format == "json" {
					return printJSON(ps)
				}
				fmt.Printf("phase %s: %s\n", phase, ps.Status)
				if ps.PlanPath != "" {
					fmt.Printf("  plan: %s\n", ps.PlanPath)
				}
				if ps.GitRange != "" {
					fmt.Printf("  range: %s\n", ps.GitRange)
				}
				if ps.BlockedReason != "" {
					fmt.Printf("  blocked: %s\n", ps.BlockedReason)
				}
				return nil
			}

			if format == "json" {
				return printJSON(st)
			}
			fmt.Printf("feature: %s\n", st.Feature)
			fmt.Printf("status: %s\n", st.Status)
			fmt.Printf("phase: %d/%d\n", st.CurrentPhase, st.TotalPhases)
			for key, ps := range st.Phases {
				fmt.Printf("  phase %s: %s\n", key, ps.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.Flags().StringVar(&phase, "phase", "", "phase identifier (optional)")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text or json)")
	cmd.MarkFlagRequired("feature")
	return cmd
}

package commands

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/session"
	"github.com/antigravity-dev/tina/internal/state"
	"github.com/antigravity-dev/tina/internal/tmux"
)

func featurePhaseFlags(cmd *cobra.Command, feature, phase *string) {
	cmd.Flags().StringVar(feature, "feature", "", "feature name")
	cmd.Flags().StringVar(phase, "phase", "", `phase identifier (e.g. "1", "2", "1.5" for remediation)`)
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("phase")
}

func newStartCmd() *cobra.Command {
	var (
		feature     string
		phase       string
		plan        string
		installDeps bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start phase execution (creates tmux, starts Claude, sends skill)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			lookup, err := session.LoadLookup(feature)
			if err != nil {
				return err
			}

			sessionName := session.Name(feature, phase)
			if tmux.HasSession(sessionName) {
				return fmt.Errorf("session %s already exists", sessionName)
			}

			if installDeps {
				if err := installProjectDeps(lookup.Cwd); err != nil {
					warn("dependency install failed: %v", err)
				}
			}

			if err := tmux.NewSession(sessionName, lookup.Cwd); err != nil {
				return err
			}

			launch := `PATH="$PATH:$HOME/.local/bin" claude --dangerously-skip-permissions`
			if err := tmux.SendText(sessionName, launch); err != nil {
				tmux.KillSession(sessionName)
				return err
			}

			// Give the CLI a moment to come up, then hand it the phase skill.
			time.Sleep(2 * time.Second)
			skill := fmt.Sprintf("/tina:execute-phase --feature %s --phase %s --plan %s", feature, phase, plan)
			if err := tmux.SendText(sessionName, skill); err != nil {
				tmux.KillSession(sessionName)
				return err
			}

			return printJSON(map[string]any{
				"session": sessionName,
				"feature": feature,
				"phase":   phase,
				"plan":    plan,
			})
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	cmd.Flags().StringVar(&plan, "plan", "", "path to plan file")
	cmd.Flags().BoolVar(&installDeps, "install-deps", false, "install dependencies before starting (npm, cargo, pip)")
	cmd.MarkFlagRequired("plan")
	return cmd
}

// installProjectDeps best-effort installs dependencies for whatever
// ecosystems the worktree carries.
func installProjectDeps(worktree string) error {
	type installer struct {
		marker string
		name   string
		args   []string
	}
	for _, inst := range []installer{
		{"package.json", "npm", []string{"install"}},
		{"Cargo.toml", "cargo", []string{"fetch"}},
		{"requirements.txt", "pip", []string{"install", "-r", "requirements.txt"}},
	} {
		if _, err := os.Stat(worktree + "/" + inst.marker); err != nil {
			continue
		}
		cmd := exec.Command(inst.name, inst.args...)
		cmd.Dir = worktree
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("%s %v: %w (%s)", inst.name, inst.args, err, string(out))
		}
	}
	return nil
}

func newWaitCmd() *cobra.Command {
	var (
		feature string
		phase   string
		timeout uint64
		stream  uint64
		team    string
	)

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for phase completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			lookup, err := session.LoadLookup(feature)
			if err != nil {
				return err
			}

			var deadline time.Time
			if timeout > 0 {
				deadline = time.Now().Add(time.Duration(timeout) * time.Second)
			}
			var lastStream time.Time

			for {
				st, err := state.Load(lookup.Cwd)
				if err != nil {
					return err
				}
				ps, ok := st.Phases[phase]
				if ok {
					switch ps.Status {
					case state.PhaseComplete:
						return printJSON(map[string]any{"phase": phase, "status": "complete"})
					case state.PhaseBlocked:
						return printJSON(map[string]any{
							"phase":  phase,
							"status": "blocked",
							"reason": ps.BlockedReason,
						})
					}
				}

				if stream > 0 && time.Since(lastStream) >= time.Duration(stream)*time.Second {
					lastStream = time.Now()
					status := "missing"
					if ok {
						status = string(ps.Status)
					}
					fmt.Fprintf(os.Stderr, "phase %s: %s\n", phase, status)
				}

				if !deadline.IsZero() && time.Now().After(deadline) {
					return fmt.Errorf("timed out waiting for phase %s after %ds", phase, timeout)
				}

				sessionName := session.Name(feature, phase)
				if status, _ := tmux.SessionStatus(sessionName); status == "exited" {
					return fmt.Errorf("session %s exited before phase %s completed", sessionName, phase)
				}

				time.Sleep(2 * time.Second)
			}
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	cmd.Flags().Uint64Var(&timeout, "timeout", 0, "timeout in seconds (default: no timeout)")
	cmd.Flags().Uint64Var(&stream, "stream", 0, "stream status updates at this interval (seconds)")
	cmd.Flags().StringVar(&team, "team", "", "team name for task progress tracking")
	return cmd
}

func newStopCmd() *cobra.Command {
	var feature, phase string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop phase and cleanup session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			sessionName := session.Name(feature, phase)
			if err := tmux.KillSession(sessionName); err != nil {
				return err
			}
			return printJSON(map[string]any{"session": sessionName, "stopped": true})
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	return cmd
}

func newNameCmd() *cobra.Command {
	var feature, phase string

	cmd := &cobra.Command{
		Use:   "name",
		Short: "Get canonical session name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			fmt.Println(session.Name(feature, phase))
			return nil
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	return cmd
}

func newExistsCmd() *cobra.Command {
	var feature, phase string

	cmd := &cobra.Command{
		Use:   "exists",
		Short: "Check if session exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			sessionName := session.Name(feature, phase)
			exists := tmux.HasSession(sessionName)
			if err := printJSON(map[string]any{"session": sessionName, "exists": exists}); err != nil {
				return err
			}
			if !exists {
				os.Exit(1)
			}
			return nil
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	return cmd
}

func newSendCmd() *cobra.Command {
	var feature, phase, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send text to session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			return tmux.SendText(session.Name(feature, phase), text)
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	cmd.Flags().StringVar(&text, "text", "", "text to send")
	cmd.MarkFlagRequired("text")
	return cmd
}

func newAttachCmd() *cobra.Command {
	var feature, phase string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to session in current terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			sessionName := session.Name(feature, phase)
			if !tmux.HasSession(sessionName) {
				return fmt.Errorf("session %s does not exist", sessionName)
			}

			tmuxPath, err := exec.LookPath("tmux")
			if err != nil {
				return fmt.Errorf("tmux not found: %w", err)
			}
			// Replace this process so the terminal is handed to tmux.
			return syscall.Exec(tmuxPath, []string{"tmux", "attach", "-t", sessionName}, os.Environ())
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	return cmd
}

func newCaptureCmd() *cobra.Command {
	var (
		feature string
		phase   string
		lines   int
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture screen contents from session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			output, err := tmux.CapturePane(session.Name(feature, phase), lines)
			if err != nil {
				return err
			}
			fmt.Println(output)
			return nil
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	cmd.Flags().IntVar(&lines, "lines", 100, "number of lines to capture")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var feature, phase, team string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Get current phase status (one-shot, no waiting)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkPhase(phase); err != nil {
				return err
			}
			st, err := loadStateForFeature(feature)
			if err != nil {
				return err
			}

			sessionName := session.Name(feature, phase)
			sessionStatus, exitCode := tmux.SessionStatus(sessionName)

			result := map[string]any{
				"feature":        feature,
				"phase":          phase,
				"session":        sessionName,
				"session_status": sessionStatus,
			}
			if sessionStatus == "exited" {
				result["exit_code"] = exitCode
			}
			if ps, ok := st.Phases[phase]; ok {
				result["status"] = ps.Status
				if ps.PlanPath != "" {
					result["plan_path"] = ps.PlanPath
				}
				if ps.GitRange != "" {
					result["git_range"] = ps.GitRange
				}
				if ps.BlockedReason != "" {
					result["blocked_reason"] = ps.BlockedReason
				}
			} else {
				result["status"] = "not_started"
			}
			return printJSON(result)
		},
	}

	featurePhaseFlags(cmd, &feature, &phase)
	cmd.Flags().StringVar(&team, "team", "", "team name for task progress tracking")
	return cmd
}

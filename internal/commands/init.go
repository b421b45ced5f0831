package commands

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/session"
	"github.com/antigravity-dev/tina/internal/state"
)

func newInitCmd() *cobra.Command {
	var (
		feature     string
		cwd         string
		designDoc   string
		branch      string
		totalPhases int
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize orchestration (creates worktree, lookup file + supervisor-state.json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if totalPhases <= 0 {
				return fmt.Errorf("--total-phases must be positive")
			}

			worktree, err := ensureWorktree(cwd, feature, branch)
			if err != nil {
				return err
			}

			if err := session.SaveLookup(&session.Lookup{
				Feature:   feature,
				Cwd:       worktree,
				Branch:    branch,
				CreatedAt: time.Now().UTC(),
			}); err != nil {
				return err
			}

			st := state.New(feature, designDoc, worktree, branch, totalPhases)
			if err := st.Save(); err != nil {
				return err
			}

			if err := syncAdvanceToStore(feature, st, "validation", nil, nil); err != nil {
				warn("failed to sync to store: %v", err)
			}

			return printJSON(map[string]any{
				"feature":      feature,
				"worktree":     worktree,
				"branch":       branch,
				"total_phases": totalPhases,
			})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name (used for session naming)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "project root directory (where .worktrees/ will be created)")
	cmd.Flags().StringVar(&designDoc, "design-doc", "", "path to design document")
	cmd.Flags().StringVar(&branch, "branch", "", "git branch name")
	cmd.Flags().IntVar(&totalPhases, "total-phases", 0, "total number of phases")
	cmd.MarkFlagRequired("feature")
	cmd.MarkFlagRequired("cwd")
	cmd.MarkFlagRequired("design-doc")
	cmd.MarkFlagRequired("branch")
	cmd.MarkFlagRequired("total-phases")
	return cmd
}

// ensureWorktree creates <cwd>/.worktrees/<feature> as a git worktree on
// the requested branch. An existing directory is reused as-is.
func ensureWorktree(cwd, feature, branch string) (string, error) {
	worktree := filepath.Join(cwd, ".worktrees", feature)
	if _, err := os.Stat(worktree); err == nil {
		return worktree, nil
	}

	if err := os.MkdirAll(filepath.Dir(worktree), 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	addCmd := exec.Command("git", "worktree", "add", worktree, "-b", branch)
	addCmd.Dir = cwd
	if out, err := addCmd.CombinedOutput(); err != nil {
		stderr := strings.TrimSpace(string(out))
		// Branch may already exist from a previous run; check it out instead.
		if strings.Contains(stderr, "already exists") {
			retry := exec.Command("git", "worktree", "add", worktree, branch)
			retry.Dir = cwd
			if out2, err2 := retry.CombinedOutput(); err2 != nil {
				return "", fmt.Errorf("git worktree add: %w (%s)", err2, strings.TrimSpace(string(out2)))
			}
			return worktree, nil
		}
		return "", fmt.Errorf("git worktree add: %w (%s)", err, stderr)
	}
	return worktree, nil
}

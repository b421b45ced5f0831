package commands

import (
	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/session"
	"github.com/antigravity-dev/tina/internal/state"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active orchestrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			lookups, err := session.ListLookups()
			if err != nil {
				return err
			}

			type entry struct {
				Feature      string `json:"feature"`
				Worktree     string `json:"worktree"`
				Branch       string `json:"branch"`
				Status       string `json:"status,omitempty"`
				CurrentPhase int    `json:"current_phase,omitempty"`
				TotalPhases  int    `json:"total_phases,omitempty"`
			}

			entries := make([]entry, 0, len(lookups))
			for _, lookup := range lookups {
				e := entry{
					Feature:  lookup.Feature,
					Worktree: lookup.Cwd,
					Branch:   lookup.Branch,
				}
				if st, err := state.Load(lookup.Cwd); err == nil {
					e.Status = string(st.Status)
					e.CurrentPhase = st.CurrentPhase
					e.TotalPhases = st.TotalPhases
				}
				entries = append(entries, e)
			}
			return printJSON(entries)
		},
	}
}

func newCleanupCmd() *cobra.Command {
	var feature string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove lookup file for feature",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.RemoveLookup(feature); err != nil {
				return err
			}
			return printJSON(map[string]any{"feature": feature, "cleaned": true})
		},
	}

	cmd.Flags().StringVar(&feature, "feature", "", "feature name")
	cmd.MarkFlagRequired("feature")
	return cmd
}

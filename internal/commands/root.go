// Package commands implements the tina-session command tree.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antigravity-dev/tina/internal/session"
	"github.com/antigravity-dev/tina/internal/state"
)

// Execute runs the CLI.
func Execute(version string) error {
	root := NewRootCmd(version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewRootCmd builds the tina-session command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "tina-session",
		Short:         "Phase lifecycle management for Tina orchestrations",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newInitCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newWaitCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newStateCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newNameCmd())
	root.AddCommand(newExistsCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newAttachCmd())
	root.AddCommand(newCaptureCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDaemonCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newOrchestrateCmd())
	root.AddCommand(newExecCodexCmd())

	return root
}

// checkPhase validates a phase argument before any command acts on it.
func checkPhase(phase string) error {
	return session.ValidatePhase(phase)
}

// loadStateForFeature resolves a feature's worktree through its session
// lookup file and loads the supervisor state.
func loadStateForFeature(feature string) (*state.SupervisorState, error) {
	lookup, err := session.LoadLookup(feature)
	if err != nil {
		return nil, fmt.Errorf("no active orchestration for feature %q: %w", feature, err)
	}
	return state.Load(lookup.Cwd)
}

// printJSON writes a value as a single JSON line on stdout.
func printJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// warn prints a non-fatal warning on stderr.
func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// Tina-session manages the phase lifecycle of Tina orchestrations: it
// spawns interactive agent sessions into detached tmux sessions, tracks
// per-phase supervisor state on disk, and drives the orchestration state
// machine.
package main

import (
	"os"
	"runtime/debug"

	"github.com/antigravity-dev/tina/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}

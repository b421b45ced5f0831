// Package session provides session naming, the per-feature lookup files,
// and the external codex runner.
package session

import (
	"fmt"
	"regexp"
	"strings"
)

// SessionPrefix namespaces all tina-managed tmux sessions.
const SessionPrefix = "tina-"

// maxRemediationDepth mirrors the state machine's remediation bound.
const maxRemediationDepth = 2

var phasePattern = regexp.MustCompile(`^\d+(\.5)*$`)

// ValidatePhase checks a phase identifier: an integer like "1", or up to two
// ".5" remediation suffixes like "1.5" and "1.5.5".
func ValidatePhase(phase string) error {
	if !phasePattern.MatchString(phase) {
		return fmt.Errorf(
			"invalid phase %q: must be an integer (\"2\") or a remediation phase (\"2.5\", \"2.5.5\")",
			phase,
		)
	}
	if strings.Count(phase, ".5") > maxRemediationDepth {
		return fmt.Errorf(
			"invalid phase %q: at most %d remediation levels are supported",
			phase, maxRemediationDepth,
		)
	}
	return nil
}

// sanitize lowercases and replaces characters tmux treats specially
// (dots and colons) plus spaces with dashes.
func sanitize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// Name builds the canonical tmux session name for a feature phase:
// tina-<feature>-phase-<phase>, with dots flattened to dashes.
func Name(feature, phase string) string {
	return fmt.Sprintf("%s%s-phase-%s", SessionPrefix, sanitize(feature), sanitize(phase))
}

// TeamName is the logical team name for a feature phase. Unlike session
// names it keeps the decimal phase key.
func TeamName(feature, phase string) string {
	return fmt.Sprintf("%s-phase-%s", feature, phase)
}

// LocalDirName is the on-disk directory name the agent CLI derives from a
// team name (dots flattened to dashes).
func LocalDirName(teamName string) string {
	return sanitize(teamName)
}

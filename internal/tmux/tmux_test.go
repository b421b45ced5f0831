package tmux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPaneExistsFalseForNonexistentPane(t *testing.T) {
	if !IsAvailable() {
		t.Skip("tmux not available")
	}
	require.False(t, PaneExists("%99999"))
	require.False(t, PaneExists("not-a-pane"))
}

func TestHasSessionFalseForNonexistentSession(t *testing.T) {
	if !IsAvailable() {
		t.Skip("tmux not available")
	}
	require.False(t, HasSession("tina-test-definitely-missing"))
}

func TestSessionStatusGoneForMissingSession(t *testing.T) {
	if !IsAvailable() {
		t.Skip("tmux not available")
	}
	status, code := SessionStatus("tina-test-definitely-missing")
	require.Equal(t, "gone", status)
	require.Equal(t, -1, code)
}

func TestKillSessionIgnoresMissing(t *testing.T) {
	if !IsAvailable() {
		t.Skip("tmux not available")
	}
	require.NoError(t, KillSession("tina-test-definitely-missing"))
}

func TestListSessionsWithNoServer(t *testing.T) {
	if !IsAvailable() {
		t.Skip("tmux not available")
	}
	// Must not error regardless of server state.
	_, err := ListSessions("tina-")
	require.NoError(t, err)
}

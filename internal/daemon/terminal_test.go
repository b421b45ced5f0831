package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// --- Control message parsing ---

func TestParseResizeMessage(t *testing.T) {
	// Type 1, cols=80 (0x0050), rows=24 (0x0018)
	msg, err := ParseControlMessage([]byte{0x01, 0x00, 0x50, 0x00, 0x18})
	require.NoError(t, err)
	require.Equal(t, uint16(80), msg.Cols)
	require.Equal(t, uint16(24), msg.Rows)
}

func TestParseResizeLargeDimensions(t *testing.T) {
	// cols=300 (0x012C), rows=100 (0x0064)
	msg, err := ParseControlMessage([]byte{0x01, 0x01, 0x2C, 0x00, 0x64})
	require.NoError(t, err)
	require.Equal(t, uint16(300), msg.Cols)
	require.Equal(t, uint16(100), msg.Rows)
}

func TestParseEmptyMessageReturnsError(t *testing.T) {
	_, err := ParseControlMessage(nil)
	require.ErrorIs(t, err, ErrControlEmpty)
}

func TestParseUnknownTypeReturnsError(t *testing.T) {
	_, err := ParseControlMessage([]byte{0xFF, 0x00, 0x50, 0x00, 0x18})
	var unknown *UnknownControlTypeError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, byte(0xFF), unknown.Type)
}

func TestParseResizeTooShortReturnsError(t *testing.T) {
	_, err := ParseControlMessage([]byte{0x01, 0x00, 0x50})
	var tooShort *ControlTooShortError
	require.ErrorAs(t, err, &tooShort)
	require.Equal(t, 5, tooShort.Expected)
	require.Equal(t, 3, tooShort.Got)

	_, err = ParseControlMessage([]byte{0x01})
	require.ErrorAs(t, err, &tooShort)
	require.Equal(t, 1, tooShort.Got)
}

func TestParseResizeExtraBytesAreIgnored(t *testing.T) {
	msg, err := ParseControlMessage([]byte{0x01, 0x00, 0x50, 0x00, 0x18, 0xFF, 0xFF})
	require.NoError(t, err)
	require.Equal(t, uint16(80), msg.Cols)
	require.Equal(t, uint16(24), msg.Rows)
}

// --- Mouse sequence filtering ---

func TestStripMouseTrackingRemovesEnableSequences(t *testing.T) {
	data := []byte("\x1b[?1000hhello\x1b[?1006h world")
	require.Equal(t, []byte("hello world"), StripMouseTrackingEnableSequences(data))
}

func TestStripMouseTrackingKeepsNonMouseSequences(t *testing.T) {
	data := []byte("\x1b[?2004hprompt")
	require.Equal(t, data, StripMouseTrackingEnableSequences(data))
}

func TestStripMouseTrackingKeepsDisableSequences(t *testing.T) {
	data := []byte("\x1b[?1000ltext")
	require.Equal(t, data, StripMouseTrackingEnableSequences(data))

	data = []byte("\x1b[?1000lX")
	require.Equal(t, data, StripMouseTrackingEnableSequences(data))
}

func TestStripMouseTrackingRemovesAltScrollMode(t *testing.T) {
	require.Equal(t, []byte("hello"), StripMouseTrackingEnableSequences([]byte("\x1b[?1007hhello")))
}

func TestStripMouseTrackingRemovesMultiParamEnableSequence(t *testing.T) {
	require.Equal(t, []byte("hello"), StripMouseTrackingEnableSequences([]byte("\x1b[?25;1007;1000hhello")))
}

func TestStripMouseTrackingAltScreen(t *testing.T) {
	require.Equal(t, []byte("hello"), StripMouseTrackingEnableSequences([]byte("\x1b[?1049hhello")))
	keep := []byte("\x1b[?1049lhello")
	require.Equal(t, keep, StripMouseTrackingEnableSequences(keep))
}

// filterChunks replays the reader's tail-holdback loop over chunks.
func filterChunks(chunks [][]byte) []byte {
	var tail, output []byte
	for _, chunk := range chunks {
		combined := append(append([]byte{}, tail...), chunk...)
		safeEnd := len(combined)
		if start, held := trailingIncompletePrivateModeStart(combined); held {
			safeEnd = start
		}
		output = append(output, StripMouseTrackingEnableSequences(combined[:safeEnd])...)
		tail = append(tail[:0], combined[safeEnd:]...)
	}
	return append(output, StripMouseTrackingEnableSequences(tail)...)
}

func TestStripMouseTrackingHandlesSplitSequencesAcrossChunks(t *testing.T) {
	output := filterChunks([][]byte{
		[]byte("abc\x1b[?10"),
		[]byte("06hdef\x1b[?100"),
		[]byte("0hghi"),
	})
	require.Equal(t, []byte("abcdefghi"), output)
}

func TestStripMouseTrackingTwoChunkBoundary(t *testing.T) {
	output := filterChunks([][]byte{
		[]byte("abc\x1b[?10"),
		[]byte("06hdef"),
	})
	require.Equal(t, []byte("abcdef"), output)
}

func TestTrailingIncompleteDetection(t *testing.T) {
	start, held := trailingIncompletePrivateModeStart([]byte("abc\x1b[?10"))
	require.True(t, held)
	require.Equal(t, 3, start)

	_, held = trailingIncompletePrivateModeStart([]byte("abc\x1b[?1006h"))
	require.False(t, held)

	_, held = trailingIncompletePrivateModeStart([]byte("plain text"))
	require.False(t, held)
}

// --- Pane ID format validation ---

func TestValidPaneIDFormat(t *testing.T) {
	require.True(t, IsValidPaneIDFormat("%0"))
	require.True(t, IsValidPaneIDFormat("%302"))
	require.True(t, IsValidPaneIDFormat("%99999"))

	require.False(t, IsValidPaneIDFormat("302"))
	require.False(t, IsValidPaneIDFormat("pane0"))
	require.False(t, IsValidPaneIDFormat("%"))
	require.False(t, IsValidPaneIDFormat("%abc"))
	require.False(t, IsValidPaneIDFormat("%30x"))
	require.False(t, IsValidPaneIDFormat("% 302"))
	require.False(t, IsValidPaneIDFormat(""))
}

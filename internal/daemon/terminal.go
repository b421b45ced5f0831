package daemon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/creack/pty"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/tina/internal/tmux"
)

// WebSocket-to-PTY terminal relay.
//
// Bridges xterm.js WebSocket connections to tmux panes via a PTY running
// `tmux attach -t {paneId}`.
//
// Protocol:
//   - Text WebSocket frames carry terminal input.
//   - Binary frames from the PTY carry terminal output.
//   - Binary frames from the browser carry control messages:
//     type 1 (resize): [0x01, cols_hi, cols_lo, rows_hi, rows_lo]

const (
	msgTypeResize        = 1
	resizePayloadLen     = 5 // 1 type + 2 cols + 2 rows
	maxPrivateModePrefix = 32
	ptyChannelCapacity   = 64
)

// ControlMessage is a parsed binary control frame.
type ControlMessage struct {
	Cols uint16
	Rows uint16
}

// Control message parse errors.
var (
	ErrControlEmpty = errors.New("empty control message")
)

// UnknownControlTypeError reports an unrecognized control type byte.
type UnknownControlTypeError struct {
	Type byte
}

func (e *UnknownControlTypeError) Error() string {
	return fmt.Sprintf("unknown control message type: %d", e.Type)
}

// ControlTooShortError reports a truncated control payload.
type ControlTooShortError struct {
	Expected int
	Got      int
}

func (e *ControlTooShortError) Error() string {
	return fmt.Sprintf("control message too short: expected %d bytes, got %d", e.Expected, e.Got)
}

// ParseControlMessage parses a binary frame into a resize message. Bytes
// beyond the fixed payload are ignored.
func ParseControlMessage(data []byte) (*ControlMessage, error) {
	if len(data) == 0 {
		return nil, ErrControlEmpty
	}
	switch data[0] {
	case msgTypeResize:
		if len(data) < resizePayloadLen {
			return nil, &ControlTooShortError{Expected: resizePayloadLen, Got: len(data)}
		}
		return &ControlMessage{
			Cols: uint16(data[1])<<8 | uint16(data[2]),
			Rows: uint16(data[3])<<8 | uint16(data[4]),
		}, nil
	default:
		return nil, &UnknownControlTypeError{Type: data[0]}
	}
}

// isDisallowedPrivateMode lists the private modes whose enables are
// stripped from PTY output: mouse tracking, alternate scroll, and
// alternate screen buffers.
func isDisallowedPrivateMode(mode uint32) bool {
	switch mode {
	case 1000, 1002, 1003, 1005, 1006, 1015, 1016, // mouse tracking
		1007,           // alternate scroll (wheel becomes Up/Down input)
		47, 1047, 1049: // alternate screen buffer enables
		return true
	default:
		return false
	}
}

// parsePrivateModeSequence parses `ESC [ ? ... final` at the start of data.
// Returns the end index, whether the sequence should be stripped, and
// whether it is complete.
func parsePrivateModeSequence(data []byte) (end int, strip bool, complete bool, isSequence bool) {
	if len(data) == 0 || data[0] != 0x1b {
		return 0, false, false, false
	}
	if len(data) < 2 || data[1] != '[' {
		return 0, false, false, false
	}
	if len(data) < 3 || data[2] != '?' {
		return 0, false, false, false
	}

	idx := 3
	var curMode uint32
	haveMode := false

	for idx < len(data) {
		b := data[idx]
		switch {
		case b >= '0' && b <= '9':
			digit := uint32(b - '0')
			next := curMode*10 + digit
			if next < curMode {
				next = ^uint32(0) // saturate on overflow
			}
			curMode = next
			haveMode = true
			idx++
		case b == ';':
			if haveMode && curMode <= 0xFFFF && isDisallowedPrivateMode(curMode) {
				strip = true
			}
			curMode = 0
			haveMode = false
			idx++
		case b >= 0x40 && b <= 0x7e:
			if haveMode && curMode <= 0xFFFF && isDisallowedPrivateMode(curMode) {
				strip = true
			}
			// Only the `h` (set) terminator triggers stripping; `l` (reset)
			// passes through.
			return idx + 1, b == 'h' && strip, true, true
		default:
			return 0, false, false, false
		}
	}

	return len(data), false, false, true
}

// trailingIncompletePrivateModeStart finds the start of an incomplete
// `ESC [ ? ...` sequence within the last 32 bytes, so it can be held back
// and completed by the next read.
func trailingIncompletePrivateModeStart(data []byte) (int, bool) {
	searchStart := 0
	if len(data) > maxPrivateModePrefix {
		searchStart = len(data) - maxPrivateModePrefix
	}
	for i := len(data) - 1; i >= searchStart; i-- {
		if data[i] != 0x1b {
			continue
		}
		if _, _, complete, isSeq := parsePrivateModeSequence(data[i:]); isSeq && !complete {
			return i, true
		}
	}
	return 0, false
}

// StripMouseTrackingEnableSequences removes disallowed private-mode enable
// sequences from terminal output so the embedded browser terminal keeps
// native mouse handling.
func StripMouseTrackingEnableSequences(data []byte) []byte {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		if data[i] == 0x1b {
			if end, strip, complete, isSeq := parsePrivateModeSequence(data[i:]); isSeq && complete && strip {
				i += end
				continue
			}
		}
		out = append(out, data[i])
		i++
	}
	return out
}

// IsValidPaneIDFormat checks the `%<digits>` pane id shape.
func IsValidPaneIDFormat(paneID string) bool {
	if len(paneID) < 2 || paneID[0] != '%' {
		return false
	}
	for _, c := range paneID[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func timeNowPlusSecond() time.Time {
	return time.Now().Add(time.Second)
}

type ptyCommand struct {
	data   []byte
	resize *ControlMessage
}

var terminalUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true }, // CORS is enforced at the router layer
}

// handleTerminalWS upgrades GET /ws/terminal/{paneId} and runs the bridge.
func (srv *HTTPServer) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	paneID := chi.URLParam(r, "paneId")

	if !IsValidPaneIDFormat(paneID) {
		http.Error(w, "invalid pane ID format", http.StatusBadRequest)
		return
	}
	if !tmux.PaneExists(paneID) {
		http.Error(w, "tmux pane not found", http.StatusNotFound)
		return
	}

	// Best-effort: let the browser's terminal own wheel scrolling.
	if err := tmux.DisableMouse(paneID); err != nil {
		srv.logger.Warn("failed to disable mouse mode, continuing", "pane_id", paneID, "error", err)
	}

	conn, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debug("websocket upgrade failed", "pane_id", paneID, "error", err)
		return
	}

	runTerminalSession(conn, paneID, srv.logger)
}

// runTerminalSession bridges one WebSocket connection to one tmux pane
// through a PTY child. Three workers cooperate: a PTY reader and a PTY
// writer on blocking goroutines, and a WebSocket sender; the calling
// goroutine runs the WebSocket receive loop.
func runTerminalSession(conn *websocket.Conn, paneID string, logger *slog.Logger) {
	defer conn.Close()
	logger.Info("terminal session starting", "pane_id", paneID)

	cmd := exec.Command("tmux", "attach", "-t", paneID)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		logger.Error("failed to spawn tmux attach", "pane_id", paneID, "error", err)
		return
	}

	ptyOut := make(chan []byte, ptyChannelCapacity)
	ptyIn := make(chan ptyCommand, ptyChannelCapacity)
	readerDone := make(chan struct{})
	writerDone := make(chan struct{})
	senderDone := make(chan struct{})

	// PTY reader: strip complete disallowed sequences, hold back an
	// incomplete trailing one in `tail` for the next read.
	go func() {
		defer close(ptyOut)
		defer close(readerDone)

		buf := make([]byte, 4096)
		var tail []byte
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				combined := make([]byte, 0, len(tail)+n)
				combined = append(combined, tail...)
				combined = append(combined, buf[:n]...)

				safeEnd := len(combined)
				if start, held := trailingIncompletePrivateModeStart(combined); held {
					safeEnd = start
				}
				cleaned := StripMouseTrackingEnableSequences(combined[:safeEnd])
				if len(cleaned) > 0 {
					ptyOut <- cleaned
				}
				tail = append(tail[:0], combined[safeEnd:]...)
			}
			if err != nil {
				if len(tail) > 0 {
					if cleaned := StripMouseTrackingEnableSequences(tail); len(cleaned) > 0 {
						ptyOut <- cleaned
					}
				}
				if err != io.EOF {
					logger.Debug("PTY read error", "pane_id", paneID, "error", err)
				} else {
					logger.Debug("PTY EOF", "pane_id", paneID)
				}
				return
			}
		}
	}()

	// PTY writer: terminal input plus resizes; exits when ptyIn closes.
	go func() {
		defer close(writerDone)
		for command := range ptyIn {
			if command.resize != nil {
				size := &pty.Winsize{Rows: command.resize.Rows, Cols: command.resize.Cols}
				if err := pty.Setsize(ptmx, size); err != nil {
					logger.Warn("PTY resize failed",
						"pane_id", paneID,
						"cols", command.resize.Cols,
						"rows", command.resize.Rows,
						"error", err)
				}
				continue
			}
			if _, err := ptmx.Write(command.data); err != nil {
				logger.Debug("PTY write error", "pane_id", paneID, "error", err)
				return
			}
		}
	}()

	// WebSocket sender: forwards cleaned PTY output as binary frames, then
	// a close frame when the PTY side ends. After a send failure it keeps
	// draining so the reader never blocks on a full channel.
	go func() {
		defer close(senderDone)
		sendFailed := false
		for data := range ptyOut {
			if sendFailed {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Debug("WebSocket send failed", "pane_id", paneID)
				sendFailed = true
			}
		}
		if !sendFailed {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				timeNowPlusSecond())
		}
	}()

	// Receive loop: text frames are terminal input, binary frames are
	// control messages.
recvLoop:
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Debug("WebSocket closed", "pane_id", paneID, "error", err)
			break
		}
		switch messageType {
		case websocket.TextMessage:
			select {
			case ptyIn <- ptyCommand{data: data}:
			case <-writerDone:
				break recvLoop
			}
		case websocket.BinaryMessage:
			control, err := ParseControlMessage(data)
			if err != nil {
				logger.Warn("invalid control message", "pane_id", paneID, "error", err)
				continue
			}
			logger.Debug("resize request", "pane_id", paneID, "cols", control.Cols, "rows", control.Rows)
			select {
			case ptyIn <- ptyCommand{resize: control}:
			case <-writerDone:
				break recvLoop
			}
		}
	}

	// Cleanup: stop the writer, detach from the pane (killing the attach
	// child leaves the pane alive), then wait for the workers.
	close(ptyIn)
	if err := cmd.Process.Kill(); err != nil {
		logger.Debug("failed to kill attach child (may have already exited)",
			"pane_id", paneID, "error", err)
	}
	cmd.Wait()
	ptmx.Close()
	<-readerDone
	<-writerDone
	<-senderDone

	logger.Info("terminal session ended", "pane_id", paneID)
}

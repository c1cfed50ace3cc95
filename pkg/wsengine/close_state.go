package wsengine

import (
	"errors"
	"time"

	"github.com/gbdevw/gowsrt/pkg/wsframe"
)

// State of the close handshake.
type CloseState int

const (
	// No close frame exchanged
	CloseStateOpen CloseState = iota
	// The server sent a close frame and waits for the peer one
	CloseStateLocalCloseSent
	// The peer sent a close frame, the echo is pending
	CloseStateRemoteCloseReceived
	// Both sides are done, the transport must be shut down
	CloseStateBothClosed
	// The server shut the transport down. Terminal.
	CloseStateTransportShutdown
)

func (s CloseState) String() string {
	switch s {
	case CloseStateOpen:
		return "open"
	case CloseStateLocalCloseSent:
		return "local_close_sent"
	case CloseStateRemoteCloseReceived:
		return "remote_close_received"
	case CloseStateBothClosed:
		return "both_closed"
	case CloseStateTransportShutdown:
		return "transport_shutdown"
	default:
		return "unknown"
	}
}

// Close handshake state machine of one connection. The methods return the encoded close frames
// to write; the machine itself performs no I/O.
type CloseStateMachine struct {
	state CloseState
	// How long to wait for the peer close frame after sending ours
	grace    time.Duration
	deadline time.Time
	// Whether this side already put a close frame on the wire
	sent bool
	// Close status reported to the application
	code   wsframe.CloseCode
	reason string
}

// NewCloseStateMachine creates an open state machine.
func NewCloseStateMachine(grace time.Duration) *CloseStateMachine {
	return &CloseStateMachine{
		state: CloseStateOpen,
		grace: grace,
		code:  wsframe.CloseNoStatusReceived,
	}
}

// # Description
//
// Start a server initiated close handshake.
//
// # Returns
//
// The close frame to write, ErrConnectionClosed if the handshake already started, or a protocol
// error if the code cannot be sent on the wire.
func (m *CloseStateMachine) Initiate(now time.Time, code wsframe.CloseCode, reason string) ([]byte, error) {
	if m.state != CloseStateOpen {
		return nil, ErrConnectionClosed
	}
	frame, err := encodeClose(code, reason)
	if err != nil {
		return nil, err
	}
	m.state = CloseStateLocalCloseSent
	m.deadline = now.Add(m.grace)
	m.sent = true
	m.code, m.reason = code, reason
	return frame, nil
}

// # Description
//
// Handle a close frame received from the peer.
//
//   - Open: the peer initiated. The echo reuses the received code, 1000 if there was none.
//     Call ReplySent once the echo has been written.
//   - LocalCloseSent: the peer answered, the handshake is complete.
//   - An invalid close payload fails the connection (see Fail).
//
// # Returns
//
// The close frame to write, if any.
func (m *CloseStateMachine) Receive(now time.Time, payload []byte) []byte {
	code, reason, err := wsframe.ParseClosePayload(payload)
	if err != nil {
		var perr *wsframe.ProtocolError
		if errors.As(err, &perr) {
			return m.Fail(perr.Code, perr.Reason)
		}
		return m.Fail(wsframe.CloseProtocolError, err.Error())
	}
	switch m.state {
	case CloseStateOpen:
		m.state = CloseStateRemoteCloseReceived
		m.code, m.reason = code, reason
		echo := code
		if echo == wsframe.CloseNoStatusReceived {
			echo = wsframe.CloseNormalClosure
		}
		frame, _ := encodeClose(echo, "")
		m.sent = true
		return frame
	case CloseStateLocalCloseSent:
		m.state = CloseStateBothClosed
		return nil
	default:
		return nil
	}
}

// ReplySent completes a peer initiated handshake once the echo has been written.
func (m *CloseStateMachine) ReplySent() {
	if m.state == CloseStateRemoteCloseReceived {
		m.state = CloseStateBothClosed
	}
}

// # Description
//
// Fail the connection: send a close frame with the provided code (unless one was already sent)
// and shut down without waiting for the peer.
//
// # Returns
//
// The close frame to write, if any.
func (m *CloseStateMachine) Fail(code wsframe.CloseCode, reason string) []byte {
	if m.state >= CloseStateBothClosed {
		return nil
	}
	m.state = CloseStateBothClosed
	m.code, m.reason = code, reason
	if m.sent {
		return nil
	}
	m.sent = true
	frame, err := encodeClose(code, reason)
	if err != nil {
		return nil
	}
	return frame
}

// Abandon records an unusable transport: no close frame can be sent anymore.
func (m *CloseStateMachine) Abandon(reason string) {
	if m.state >= CloseStateBothClosed {
		return
	}
	if m.state != CloseStateRemoteCloseReceived {
		m.code, m.reason = wsframe.CloseAbnormalClosure, reason
	}
	m.state = CloseStateBothClosed
}

// ShouldShutdown reports whether the transport must be shut down now: the handshake completed,
// the connection failed, or the peer did not answer within the grace period.
func (m *CloseStateMachine) ShouldShutdown(now time.Time) bool {
	switch m.state {
	case CloseStateBothClosed:
		return true
	case CloseStateLocalCloseSent:
		return !now.Before(m.deadline)
	default:
		return false
	}
}

// Shutdown moves the machine to its terminal state.
func (m *CloseStateMachine) Shutdown() {
	m.state = CloseStateTransportShutdown
}

// State returns the current state.
func (m *CloseStateMachine) State() CloseState {
	return m.state
}

// Status returns the close code and reason reported to the application.
func (m *CloseStateMachine) Status() (wsframe.CloseCode, string) {
	return m.code, m.reason
}

func encodeClose(code wsframe.CloseCode, reason string) ([]byte, error) {
	payload, err := wsframe.BuildClosePayload(code, reason)
	if err != nil {
		return nil, err
	}
	return wsframe.Encode(wsframe.OpClose, true, payload)
}

// Package wsframe implements the RFC 6455 frame wire format: frame encoding and decoding,
// payload masking and close frame payloads.
package wsframe

import "fmt"

// Opcode of a websocket frame. The RFC opcode space is closed: any value not listed below is
// rejected by the decoder.
type Opcode byte

const (
	// Continuation frame of a fragmented message
	OpContinuation Opcode = 0x0
	// First (or only) frame of a text message
	OpText Opcode = 0x1
	// First (or only) frame of a binary message
	OpBinary Opcode = 0x2
	// Close control frame
	OpClose Opcode = 0x8
	// Ping control frame
	OpPing Opcode = 0x9
	// Pong control frame
	OpPong Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode (Close, Ping, Pong).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData reports whether the opcode starts a data message (Text, Binary).
func (op Opcode) IsData() bool {
	return op == OpText || op == OpBinary
}

// IsValid reports whether the opcode is one of the six opcodes defined by RFC 6455.
func (op Opcode) IsValid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(op))
	}
}

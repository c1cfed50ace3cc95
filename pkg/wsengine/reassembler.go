package wsengine

import (
	"unicode/utf8"

	"github.com/gbdevw/gowsrt/pkg/wsframe"
)

// Per connection fragment reassembler: Idle -> Accumulating(opcode) -> Idle.
//
// Only data frames (Text, Binary, Continuation) are fed to the reassembler. Control frames are
// handled by the connection loop and never touch the accumulation buffer.
type Reassembler struct {
	// Maximum size of a complete message
	maxSize int64
	// Whether a fragmented message is being accumulated
	active bool
	// Opcode of the first fragment
	opcode wsframe.Opcode
	// Accumulated payload
	buf []byte
}

// NewReassembler creates an idle reassembler accepting messages up to maxSize bytes.
func NewReassembler(maxSize int64) *Reassembler {
	return &Reassembler{maxSize: maxSize}
}

// # Description
//
// Feed a data frame to the reassembler.
//
// # Returns
//
//   - (message, nil) when the frame completes a message. Text messages are checked to be valid
//     UTF-8 as a whole.
//   - (nil, nil) while a fragmented message is accumulating, or for a control frame.
//   - (nil, *wsframe.ProtocolError) for a protocol violation: 1002 for an out of sequence frame,
//     1009 for an oversized message, 1007 for invalid UTF-8. The reassembler is reset.
func (r *Reassembler) Push(frame *wsframe.Frame) (*Message, error) {
	switch {
	case frame.Opcode.IsControl():
		return nil, nil
	case frame.Opcode == wsframe.OpContinuation:
		if !r.active {
			return nil, r.fail(wsframe.CloseProtocolError, "unexpected continuation frame")
		}
		if int64(len(r.buf))+int64(len(frame.Payload)) > r.maxSize {
			return nil, r.fail(wsframe.CloseMessageTooBig, "message too big")
		}
		r.buf = append(r.buf, frame.Payload...)
		if !frame.Fin {
			return nil, nil
		}
		opcode, data := r.opcode, r.buf
		r.reset()
		return complete(opcode, data)
	default:
		if r.active {
			return nil, r.fail(wsframe.CloseProtocolError, "new message during fragmented sequence")
		}
		if int64(len(frame.Payload)) > r.maxSize {
			return nil, r.fail(wsframe.CloseMessageTooBig, "message too big")
		}
		if frame.Fin {
			return complete(frame.Opcode, frame.Payload)
		}
		r.active = true
		r.opcode = frame.Opcode
		r.buf = append(make([]byte, 0, len(frame.Payload)), frame.Payload...)
		return nil, nil
	}
}

// Active reports whether a fragmented message is being accumulated.
func (r *Reassembler) Active() bool {
	return r.active
}

// Buffered returns the number of accumulated bytes.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

func (r *Reassembler) reset() {
	r.active = false
	r.opcode = 0
	r.buf = nil
}

func (r *Reassembler) fail(code wsframe.CloseCode, reason string) error {
	r.reset()
	return &wsframe.ProtocolError{Code: code, Reason: reason}
}

func complete(opcode wsframe.Opcode, data []byte) (*Message, error) {
	if opcode == wsframe.OpText {
		if !utf8.Valid(data) {
			return nil, &wsframe.ProtocolError{Code: wsframe.CloseInvalidPayload, Reason: "invalid UTF-8"}
		}
		return &Message{Type: TextMessage, Data: data}, nil
	}
	return &Message{Type: BinaryMessage, Data: data}, nil
}

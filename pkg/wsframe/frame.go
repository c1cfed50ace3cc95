package wsframe

import (
	"encoding/binary"
	"math"
)

const (
	// Maximum payload length of a control frame
	MaxControlPayload = 125
	// Maximum header length: 2 bytes + 8 bytes extended length + 4 bytes mask key
	MaxHeaderLen = 14

	finBit  = 0x80
	rsvBits = 0x70
	opBits  = 0x0F
	maskBit = 0x80
	lenBits = 0x7F

	len16Marker = 126
	len64Marker = 127
)

// A single websocket frame. Payload is always stored unmasked.
type Frame struct {
	// Final fragment of the message
	Fin bool
	// Frame opcode
	Opcode Opcode
	// Whether the frame was masked on the wire
	Masked bool
	// Mask key, only meaningful when Masked is true
	MaskKey [4]byte
	// Unmasked payload
	Payload []byte
}

// Decoder decodes frames from a byte buffer. The zero value accepts unmasked frames of any size.
type Decoder struct {
	// Maximum accepted payload length. 0 means no limit.
	MaxPayloadBytes int64
	// Reject frames which are not masked. Servers must set this.
	RequireMask bool
}

// # Description
//
// Decode a single frame from the start of buf. The method never blocks and never retains buf:
// the returned payload is a fresh, unmasked copy.
//
// Header fields are checked as soon as they are available so that a malicious length or an
// illegal opcode is rejected before the payload has been received.
//
// # Returns
//
//   - (frame, consumed, nil) when a full frame has been decoded.
//   - (nil, 0, nil) when buf does not yet hold a full frame.
//   - (nil, 0, *ProtocolError) when the frame violates the protocol.
func (d Decoder) Decode(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	b0, b1 := buf[0], buf[1]
	if b0&rsvBits != 0 {
		return nil, 0, protocolError(CloseProtocolError, "reserved bits set")
	}
	opcode := Opcode(b0 & opBits)
	if !opcode.IsValid() {
		return nil, 0, protocolError(CloseProtocolError, "unknown opcode")
	}
	fin := b0&finBit != 0
	masked := b1&maskBit != 0
	if d.RequireMask && !masked {
		return nil, 0, protocolError(CloseProtocolError, "client frame is not masked")
	}
	length := uint64(b1 & lenBits)
	if opcode.IsControl() {
		if !fin {
			return nil, 0, protocolError(CloseProtocolError, "fragmented control frame")
		}
		if length > MaxControlPayload {
			return nil, 0, protocolError(CloseProtocolError, "control frame payload too large")
		}
	}
	offset := 2
	switch length {
	case len16Marker:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case len64Marker:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		if length>>63 != 0 {
			return nil, 0, protocolError(CloseProtocolError, "invalid payload length")
		}
		offset += 8
	}
	if d.MaxPayloadBytes > 0 && length > uint64(d.MaxPayloadBytes) {
		return nil, 0, protocolError(CloseMessageTooBig, "frame payload too large")
	}
	if length > uint64(math.MaxInt-MaxHeaderLen) {
		return nil, 0, protocolError(CloseMessageTooBig, "frame payload too large")
	}
	frame := &Frame{Fin: fin, Opcode: opcode, Masked: masked}
	if masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(frame.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}
	total := offset + int(length)
	if len(buf) < total {
		return nil, 0, nil
	}
	frame.Payload = make([]byte, int(length))
	copy(frame.Payload, buf[offset:total])
	if masked {
		Mask(frame.MaskKey, frame.Payload)
	}
	return frame, total, nil
}

// Mask XORs b in place with the mask key. Applying Mask twice with the same key restores b.
func Mask(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// # Description
//
// Encode an unmasked frame as a single contiguous buffer (header and payload). Server frames are
// never masked.
//
// # Returns
//
// The encoded frame or a protocol error if the opcode is unknown or a control frame is
// fragmented or carries more than 125 bytes.
func Encode(opcode Opcode, fin bool, payload []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, headerLen(len(payload), false)+len(payload)), opcode, fin, payload)
}

// AppendFrame appends an unmasked frame to dst and returns the extended buffer.
func AppendFrame(dst []byte, opcode Opcode, fin bool, payload []byte) ([]byte, error) {
	if err := checkOutgoing(opcode, fin, len(payload)); err != nil {
		return dst, err
	}
	dst = appendHeader(dst, opcode, fin, false, len(payload))
	return append(dst, payload...), nil
}

// # Description
//
// Encode a masked frame, the way a client sends frames. The payload slice is left untouched.
//
// # Returns
//
// The encoded frame or a protocol error (see Encode).
func EncodeMasked(opcode Opcode, fin bool, payload []byte, key [4]byte) ([]byte, error) {
	if err := checkOutgoing(opcode, fin, len(payload)); err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerLen(len(payload), true)+len(payload))
	out = appendHeader(out, opcode, fin, true, len(payload))
	out = append(out, key[:]...)
	start := len(out)
	out = append(out, payload...)
	Mask(key, out[start:])
	return out, nil
}

func checkOutgoing(opcode Opcode, fin bool, n int) error {
	if !opcode.IsValid() {
		return protocolError(CloseInternalError, "unknown opcode")
	}
	if opcode.IsControl() && (!fin || n > MaxControlPayload) {
		return protocolError(CloseInternalError, "invalid control frame")
	}
	return nil
}

func headerLen(n int, masked bool) int {
	size := 2
	switch {
	case n > math.MaxUint16:
		size += 8
	case n > MaxControlPayload:
		size += 2
	}
	if masked {
		size += 4
	}
	return size
}

// Append the frame header without the mask key.
func appendHeader(dst []byte, opcode Opcode, fin bool, masked bool, n int) []byte {
	b0 := byte(opcode)
	if fin {
		b0 |= finBit
	}
	var b1 byte
	if masked {
		b1 = maskBit
	}
	switch {
	case n <= MaxControlPayload:
		return append(dst, b0, b1|byte(n))
	case n <= math.MaxUint16:
		dst = append(dst, b0, b1|len16Marker)
		return binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, b1|len64Marker)
		return binary.BigEndian.AppendUint64(dst, uint64(n))
	}
}

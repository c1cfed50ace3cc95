package wsframe

import (
	"encoding/binary"
	"unicode/utf8"
)

// Status code carried by a close frame.
type CloseCode uint16

const (
	CloseNormalClosure      CloseCode = 1000
	CloseGoingAway          CloseCode = 1001
	CloseProtocolError      CloseCode = 1002
	CloseUnsupportedData    CloseCode = 1003
	CloseNoStatusReceived   CloseCode = 1005
	CloseAbnormalClosure    CloseCode = 1006
	CloseInvalidPayload     CloseCode = 1007
	ClosePolicyViolation    CloseCode = 1008
	CloseMessageTooBig      CloseCode = 1009
	CloseMandatoryExtension CloseCode = 1010
	CloseInternalError      CloseCode = 1011
	CloseServiceRestart     CloseCode = 1012
	CloseTryAgainLater      CloseCode = 1013
	CloseBadGateway         CloseCode = 1014
	CloseTLSHandshake       CloseCode = 1015
)

// Maximum number of reason bytes that fit in a close frame next to the 2-byte code.
const MaxCloseReasonBytes = MaxControlPayload - 2

// IsSendable reports whether the code may be put on the wire. 1004, 1005, 1006 and 1015 are
// reserved for local use, codes below 1000 and the unassigned 1016-2999 range are invalid.
func (code CloseCode) IsSendable() bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	default:
		return false
	}
}

// # Description
//
// Parse the payload of a received close frame.
//
// # Returns
//
//   - An empty payload yields CloseNoStatusReceived and an empty reason.
//   - A 1-byte payload or a code which may not be sent on the wire yields a 1002 protocol error.
//   - A reason which is not valid UTF-8 yields a 1007 protocol error.
func ParseClosePayload(payload []byte) (CloseCode, string, error) {
	if len(payload) == 0 {
		return CloseNoStatusReceived, "", nil
	}
	if len(payload) == 1 {
		return 0, "", protocolError(CloseProtocolError, "close payload of 1 byte")
	}
	code := CloseCode(binary.BigEndian.Uint16(payload))
	if !code.IsSendable() {
		return 0, "", protocolError(CloseProtocolError, "invalid close code")
	}
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", protocolError(CloseInvalidPayload, "close reason is not valid UTF-8")
	}
	return code, string(reason), nil
}

// # Description
//
// Build the payload of a close frame: 2-byte big-endian code followed by the reason. The reason
// is truncated to MaxCloseReasonBytes without splitting a UTF-8 sequence.
//
// # Returns
//
// The payload or a protocol error if the code is reserved for local use.
func BuildClosePayload(code CloseCode, reason string) ([]byte, error) {
	if !code.IsSendable() {
		return nil, protocolError(CloseInternalError, "close code cannot be sent on the wire")
	}
	reason = truncateReason(reason)
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload, nil
}

func truncateReason(reason string) string {
	if len(reason) <= MaxCloseReasonBytes {
		return reason
	}
	cut := MaxCloseReasonBytes
	// Back off to the start of the rune straddling the limit
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

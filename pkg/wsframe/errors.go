package wsframe

import (
	"errors"
	"fmt"
)

/*************************************************************************************************/
/* PROTOCOL ERROR                                                                                */
/*************************************************************************************************/

// Error raised when the peer violates the websocket protocol. The error carries the close code
// the connection must be closed with.
type ProtocolError struct {
	// Close code to send to the peer
	Code CloseCode
	// Human readable reason, also used as close reason
	Reason string
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("websocket protocol error (%d): %s", err.Code, err.Reason)
}

// Helper which builds a *ProtocolError.
func protocolError(code CloseCode, reason string) *ProtocolError {
	return &ProtocolError{Code: code, Reason: reason}
}

// # Description
//
// Extract the close code carried by err if err is (or wraps) a *ProtocolError.
//
// # Returns
//
// The close code and true if err is a protocol error, 0 and false otherwise.
func CloseCodeOf(err error) (CloseCode, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Code, true
	}
	return 0, false
}

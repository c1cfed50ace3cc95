package wsengine

import "errors"

var (
	// Returned when sending on a connection which is closing or closed
	ErrConnectionClosed = errors.New("websocket connection closed")
	// Returned when the connection outbox is full
	ErrOutboxFull = errors.New("websocket connection outbox full")
	// Returned when a text message is not valid UTF-8
	ErrInvalidText = errors.New("text message is not valid UTF-8")
	// Returned when a close code cannot be put on the wire
	ErrInvalidCloseCode = errors.New("close code cannot be sent")
)

/*************************************************************************************************/
/* SERVER START ERROR                                                                            */
/*************************************************************************************************/

// Specific error type for errors which occurs when the server starts.
type ServerStartError struct {
	// Embedded error
	Err error
}

func (err ServerStartError) Error() string {
	return "websocket server failed to start: " + err.Err.Error()
}

func (err ServerStartError) Unwrap() error {
	return err.Err
}

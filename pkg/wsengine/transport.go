package wsengine

import (
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Byte stream a connection runs on once the upgrade has completed. TLS, if any, is handled by
// the transport implementation. net.Conn satisfies the interface.
type Transport interface {
	io.ReadWriteCloser
	// Set the deadline of pending and future Read calls. A zero value disables the deadline.
	SetReadDeadline(t time.Time) error
	// Set the deadline of pending and future Write calls. A zero value disables the deadline.
	SetWriteDeadline(t time.Time) error
}

var _ Transport = (net.Conn)(nil)

// isTimeout reports whether a read error only means the deadline expired.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

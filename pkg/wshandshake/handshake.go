// Package wshandshake validates websocket upgrade requests and renders the upgrade (101) and
// rejection (400) responses.
package wshandshake

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	// GUID appended to the client key before hashing
	acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	// Only supported protocol version
	supportedVersion = "13"
)

// Error returned when an upgrade request is rejected. The connection must never reach the
// frame engine.
type HandshakeError struct {
	// Rejection reason, echoed in the response body
	Reason string
	// Set when the rejection is caused by an unsupported protocol version
	versionMismatch bool
}

func (err *HandshakeError) Error() string {
	return "websocket handshake rejected: " + err.Reason
}

func reject(reason string) *HandshakeError {
	return &HandshakeError{Reason: reason}
}

// # Description
//
// Compute the Sec-WebSocket-Accept token for a client key: base64 of the raw SHA-1 digest of
// the key concatenated with the websocket GUID.
func ComputeAcceptKey(key string) string {
	digest := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// # Description
//
// Validate an upgrade request. The request must:
//   - use the GET method
//   - carry an Upgrade header with the "websocket" token (case-insensitive)
//   - carry a Connection header with the "upgrade" token (case-insensitive)
//   - carry Sec-WebSocket-Version: 13
//   - carry a non-empty Sec-WebSocket-Key
//
// # Returns
//
// The client key or a *HandshakeError describing the first failed check.
func Validate(method string, header http.Header) (string, error) {
	if method != http.MethodGet {
		return "", reject("method must be GET")
	}
	if !hasToken(header, "Upgrade", "websocket") {
		return "", reject("missing or invalid Upgrade header")
	}
	if !hasToken(header, "Connection", "upgrade") {
		return "", reject("missing or invalid Connection header")
	}
	if strings.TrimSpace(header.Get("Sec-WebSocket-Version")) != supportedVersion {
		return "", &HandshakeError{Reason: "unsupported Sec-WebSocket-Version", versionMismatch: true}
	}
	key := strings.TrimSpace(header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return "", reject("missing Sec-WebSocket-Key header")
	}
	return key, nil
}

// ValidateRequest is a convenience wrapper around Validate for a parsed *http.Request.
func ValidateRequest(r *http.Request) (string, error) {
	return Validate(r.Method, r.Header)
}

// Check whether one of the comma separated values of the header matches token.
func hasToken(header http.Header, name string, token string) bool {
	for _, value := range header.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

/*************************************************************************************************/
/* RESPONSES                                                                                     */
/*************************************************************************************************/

// Handshake response, either the 101 upgrade or a 400 rejection.
type Response struct {
	// HTTP status code
	StatusCode int
	// Response headers
	Header http.Header
	// Response body, empty for the upgrade response
	Body []byte
}

// Accept builds the 101 Switching Protocols response for a validated key.
func Accept(key string) *Response {
	header := http.Header{}
	header.Set("Upgrade", "websocket")
	header.Set("Connection", "Upgrade")
	header.Set("Sec-WebSocket-Accept", ComputeAcceptKey(key))
	return &Response{StatusCode: http.StatusSwitchingProtocols, Header: header}
}

// Reject builds the 400 Bad Request response for a validation error.
func Reject(err error) *Response {
	reason := err.Error()
	header := http.Header{}
	var herr *HandshakeError
	if errors.As(err, &herr) {
		reason = herr.Reason
		if herr.versionMismatch {
			header.Set("Sec-WebSocket-Version", supportedVersion)
		}
	}
	body := []byte("Bad Request: " + reason)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Connection", "close")
	return &Response{StatusCode: http.StatusBadRequest, Header: header, Body: body}
}

// # Description
//
// Render the response as raw HTTP/1.1 bytes, headers CRLF terminated, in a single write.
//
// # Returns
//
// The number of bytes written and any write error.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", r.StatusCode, http.StatusText(r.StatusCode))
	if err := r.Header.Write(buf); err != nil {
		return 0, err
	}
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Write renders the response through a http.ResponseWriter. Only meaningful for rejections:
// upgrade responses are written on the hijacked connection with WriteTo.
func (r *Response) Write(w http.ResponseWriter) {
	for name, values := range r.Header {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

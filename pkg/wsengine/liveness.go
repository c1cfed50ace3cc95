package wsengine

import (
	"bytes"
	"crypto/rand"
	"time"
)

// Length of the random payload carried by heartbeat pings
const pingPayloadLen = 4

// Per connection ping/pong bookkeeping. The monitor performs no I/O: the connection loop polls
// it on every iteration with the current time.
type LivenessMonitor struct {
	lastPingSent     time.Time
	lastPongReceived time.Time
	pingInterval     time.Duration
	pongTimeout      time.Duration
	// Payload of the outstanding ping, nil when no ping is outstanding
	pending []byte
}

// NewLivenessMonitor creates a monitor for a connection opened at now.
func NewLivenessMonitor(now time.Time, pingInterval time.Duration, pongTimeout time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		lastPingSent:     now,
		lastPongReceived: now,
		pingInterval:     pingInterval,
		pongTimeout:      pongTimeout,
	}
}

// ShouldSendPing reports whether at least one ping interval elapsed since the last ping.
func (m *LivenessMonitor) ShouldSendPing(now time.Time) bool {
	return now.Sub(m.lastPingSent) >= m.pingInterval
}

// RecordPingSent records a ping sent at now.
func (m *LivenessMonitor) RecordPingSent(now time.Time) {
	m.lastPingSent = now
}

// RecordPongReceived records a valid pong received at now and clears the outstanding ping.
func (m *LivenessMonitor) RecordPongReceived(now time.Time) {
	m.lastPongReceived = now
	m.pending = nil
}

// IsOverdue reports whether the peer stayed silent for longer than ping interval + pong timeout.
func (m *LivenessMonitor) IsOverdue(now time.Time) bool {
	return now.Sub(m.lastPongReceived) > m.pingInterval+m.pongTimeout
}

// # Description
//
// Generate the random payload of the next ping and remember it as outstanding. Only a pong
// echoing this payload counts as an answer.
//
// # Returns
//
// The ping payload.
func (m *LivenessMonitor) NextPingPayload() []byte {
	payload := make([]byte, pingPayloadLen)
	if _, err := rand.Read(payload); err != nil {
		// Fall back on a time derived payload
		stamp := time.Now().UnixNano()
		for i := range payload {
			payload[i] = byte(stamp >> (8 * i))
		}
	}
	m.pending = payload
	return payload
}

// MatchesPong reports whether a pong payload answers the outstanding ping. Unsolicited pongs
// and stale payloads do not match.
func (m *LivenessMonitor) MatchesPong(payload []byte) bool {
	return m.pending != nil && bytes.Equal(m.pending, payload)
}

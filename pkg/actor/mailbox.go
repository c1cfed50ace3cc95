// Package actor provides the message delivery channel of the runtime: tagged envelopes, bounded
// FIFO mailboxes and processes which consume them.
//
// Tags at or above ReservedTagFloor belong to the runtime (websocket events, exit signals).
// Application code can only send tags below that floor, so a runtime message can never be
// confused with an application message whatever its payload looks like.
package actor

import (
	"context"
	"errors"
	"math"
	"sync"

	"github.com/eapache/queue"
)

// Identifier of a message category.
type Tag uint64

const (
	// First tag of the range reserved for runtime originated messages
	ReservedTagFloor Tag = math.MaxUint64 - 255
	// Asks the consuming process to exit
	TagExit Tag = math.MaxUint64
)

// IsReserved reports whether the tag belongs to the runtime reserved range.
func (tag Tag) IsReserved() bool {
	return tag >= ReservedTagFloor
}

// Unit of delivery.
type Envelope struct {
	// Message category
	Tag Tag
	// Opaque payload
	Payload []byte
}

var (
	// Returned when posting to or receiving from a closed, drained mailbox
	ErrMailboxClosed = errors.New("mailbox closed")
	// Returned when a bounded mailbox is full
	ErrMailboxFull = errors.New("mailbox full")
	// Returned when an application tries to send a reserved tag
	ErrReservedTag = errors.New("tag belongs to the reserved range")
)

// FIFO mailbox safe for concurrent producers and a single consumer.
type Mailbox struct {
	mu       sync.Mutex
	messages *queue.Queue
	capacity int
	closed   bool
	// Signaled (non blocking, capacity 1) when a message is added or the mailbox is closed
	notify chan struct{}
}

// NewMailbox creates a mailbox holding at most capacity pending envelopes. 0 means unbounded.
func NewMailbox(capacity int) *Mailbox {
	return &Mailbox{
		messages: queue.New(),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// # Description
//
// Post an envelope, whatever its tag. Reserved for runtime components: applications use Send.
//
// # Returns
//
// ErrMailboxClosed if the mailbox has been closed, ErrMailboxFull if it is bounded and full.
func (m *Mailbox) Post(env Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	if m.capacity > 0 && m.messages.Length() >= m.capacity {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.messages.Add(env)
	m.mu.Unlock()
	m.signal()
	return nil
}

// Send posts an application message. Reserved tags are refused with ErrReservedTag.
func (m *Mailbox) Send(tag Tag, payload []byte) error {
	if tag.IsReserved() {
		return ErrReservedTag
	}
	return m.Post(Envelope{Tag: tag, Payload: payload})
}

// TryReceive pops the oldest envelope without blocking.
func (m *Mailbox) TryReceive() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages.Length() == 0 {
		return Envelope{}, false
	}
	return m.messages.Remove().(Envelope), true
}

// # Description
//
// Pop the oldest envelope, waiting until one is available. Pending envelopes are still
// delivered after Close.
//
// # Returns
//
// The envelope, ErrMailboxClosed once the mailbox is closed and drained, or the context error.
func (m *Mailbox) Receive(ctx context.Context) (Envelope, error) {
	for {
		if env, ok := m.TryReceive(); ok {
			return env, nil
		}
		m.mu.Lock()
		closed := m.closed && m.messages.Length() == 0
		m.mu.Unlock()
		if closed {
			return Envelope{}, ErrMailboxClosed
		}
		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-m.notify:
		}
	}
}

// Close refuses further posts. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of pending envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages.Length()
}

func (m *Mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

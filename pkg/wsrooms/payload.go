package wsrooms

import "sync/atomic"

// Immutable byte payload shared by every recipient of a broadcast. Each holder owns one
// reference and must call Release exactly once when done with it.
type SharedPayload struct {
	data      []byte
	refs      atomic.Int64
	onRelease func()
}

// # Description
//
// Wrap data in a shared payload holding one reference, owned by the caller.
//
// # Inputs
//
//   - data: Payload bytes. Must not be modified afterwards.
//   - onRelease: Optional hook called once the last reference is released.
func NewSharedPayload(data []byte, onRelease func()) *SharedPayload {
	payload := &SharedPayload{data: data, onRelease: onRelease}
	payload.refs.Store(1)
	return payload
}

// Bytes returns the shared bytes. Callers must not modify them.
func (payload *SharedPayload) Bytes() []byte {
	return payload.data
}

// Retain adds a reference.
func (payload *SharedPayload) Retain() {
	payload.refs.Add(1)
}

// Release drops a reference.
func (payload *SharedPayload) Release() {
	if payload.refs.Add(-1) == 0 && payload.onRelease != nil {
		payload.onRelease()
	}
}

// Refs returns the current number of references.
func (payload *SharedPayload) Refs() int64 {
	return payload.refs.Load()
}

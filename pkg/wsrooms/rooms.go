// Package wsrooms manages named groups of connections (rooms) and fans a single shared payload
// out to every member of a room.
package wsrooms

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// Returned by Join when the room already holds the maximum number of members
	ErrRoomFull = errors.New("room is full")
	// Returned by Member.Deliver when the member's delivery target no longer exists
	ErrMemberGone = errors.New("room member is gone")
)

// A room member, typically a websocket connection.
type Member interface {
	// Unique member identifier
	ID() string
	// # Description
	//
	// Hand the payload to the member. On success the member takes ownership of one reference
	// and releases it once the payload has been written or dropped. Must not block.
	//
	// # Returns
	//
	// ErrMemberGone if the member is dead, any other error if the delivery failed.
	Deliver(payload *SharedPayload) error
}

// Outcome of a broadcast.
type BroadcastResult struct {
	// Number of members the payload was handed to
	Delivered int
	// Number of live members which refused the payload
	Failed int
	// Number of dead members skipped and removed from the room
	Pruned int
}

// Room membership registry and broadcaster.
//
// Membership is only changed through Join, Leave and LeaveAll. A reverse index from member to
// rooms allows a terminating member to leave all its rooms at once. Lock ordering: mu only.
type Manager struct {
	mu sync.RWMutex
	// room -> member ID -> member
	rooms map[string]map[string]Member
	// member ID -> rooms
	memberRooms map[string]map[string]struct{}
	// Maximum number of members per room, 0 means unlimited
	maxRoomSize int
	tracer      trace.Tracer
	logger      *zap.Logger
}

// # Description
//
// Factory which creates a new, empty Manager.
//
// # Inputs
//
//   - maxRoomSize: Maximum number of members per room. 0 means unlimited.
//   - logger: Logger used to report pruned members. A Nop logger is used if nil.
//   - tracerProvider: Tracer provider used to trace broadcasts. Global tracer provider is used if nil.
//
// # Returns
//
// A new Manager.
func NewManager(maxRoomSize int, logger *zap.Logger, tracerProvider trace.TracerProvider) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &Manager{
		rooms:       map[string]map[string]Member{},
		memberRooms: map[string]map[string]struct{}{},
		maxRoomSize: maxRoomSize,
		tracer:      tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
		logger:      logger,
	}
}

// # Description
//
// Add member to room, creating the room on first join. Joining a room twice is a noop.
//
// # Returns
//
// ErrRoomFull if the room has reached its maximum size.
func (m *Manager) Join(room string, member Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[room]
	if !ok {
		members = map[string]Member{}
		m.rooms[room] = members
	}
	if _, already := members[member.ID()]; already {
		return nil
	}
	if m.maxRoomSize > 0 && len(members) >= m.maxRoomSize {
		if len(members) == 0 {
			delete(m.rooms, room)
		}
		return ErrRoomFull
	}
	members[member.ID()] = member
	joined, ok := m.memberRooms[member.ID()]
	if !ok {
		joined = map[string]struct{}{}
		m.memberRooms[member.ID()] = joined
	}
	joined[room] = struct{}{}
	return nil
}

// Leave removes the member from room. Empty rooms are deleted. Returns false if the member was
// not in the room.
func (m *Manager) Leave(room string, memberID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(room, memberID)
}

// LeaveAll removes the member from every room it joined and returns those rooms.
func (m *Manager) LeaveAll(memberID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	left := []string{}
	for room := range m.memberRooms[memberID] {
		if m.leaveLocked(room, memberID) {
			left = append(left, room)
		}
	}
	sort.Strings(left)
	return left
}

func (m *Manager) leaveLocked(room string, memberID string) bool {
	members, ok := m.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[memberID]; !ok {
		return false
	}
	delete(members, memberID)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
	if joined, ok := m.memberRooms[memberID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(m.memberRooms, memberID)
		}
	}
	return true
}

// Broadcast delivers payload to every member of room. See BroadcastExcept.
func (m *Manager) Broadcast(ctx context.Context, room string, payload *SharedPayload) BroadcastResult {
	return m.BroadcastExcept(ctx, room, payload, "")
}

// # Description
//
// Deliver payload to every member of room except the member identified by exceptID (ignored if
// empty). Members are snapshotted first: deliveries run without holding the manager lock, so a
// slow member never blocks joins, leaves or other broadcasts.
//
// Each delivery is independent. Members answering ErrMemberGone are skipped and pruned from the
// room, other failures are counted but the member stays.
//
// The caller keeps its own reference on payload: each successful delivery holds an additional one.
//
// # Returns
//
// Delivery counters.
func (m *Manager) BroadcastExcept(ctx context.Context, room string, payload *SharedPayload, exceptID string) BroadcastResult {
	_, span := m.tracer.Start(ctx, spanBroadcast, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String(attrRoom, room),
		attribute.Int(attrPayloadLength, len(payload.Bytes())),
	))
	defer span.End()
	// Snapshot members
	m.mu.RLock()
	recipients := make([]Member, 0, len(m.rooms[room]))
	for id, member := range m.rooms[room] {
		if id != exceptID {
			recipients = append(recipients, member)
		}
	}
	m.mu.RUnlock()
	// Deliver
	result := BroadcastResult{}
	dead := []string{}
	for _, member := range recipients {
		payload.Retain()
		err := member.Deliver(payload)
		switch {
		case err == nil:
			result.Delivered++
		case errors.Is(err, ErrMemberGone):
			payload.Release()
			dead = append(dead, member.ID())
		default:
			payload.Release()
			result.Failed++
			span.RecordError(err)
		}
	}
	// Prune dead members
	if len(dead) > 0 {
		m.mu.Lock()
		for _, id := range dead {
			if m.leaveLocked(room, id) {
				result.Pruned++
			}
		}
		m.mu.Unlock()
		m.logger.Debug("pruned dead room members", zap.String("room", room), zap.Strings("members", dead))
	}
	span.SetAttributes(
		attribute.Int(attrDelivered, result.Delivered),
		attribute.Int(attrFailed, result.Failed),
		attribute.Int(attrPruned, result.Pruned),
	)
	span.SetStatus(codes.Ok, codes.Ok.String())
	return result
}

// Members returns a sorted snapshot of the member IDs of room.
func (m *Manager) Members(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rooms[room]))
	for id := range m.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns a sorted snapshot of the rooms joined by a member.
func (m *Manager) Rooms(memberID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]string, 0, len(m.memberRooms[memberID]))
	for room := range m.memberRooms[memberID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Size returns the number of members of room.
func (m *Manager) Size(room string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[room])
}

// RoomCount returns the number of non-empty rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

package demochat

import (
	"context"

	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"github.com/stretchr/testify/mock"
)

// Mock for Session
type SessionMock struct {
	mock.Mock
}

// Factory
func NewSessionMock() *SessionMock {
	return &SessionMock{
		Mock: mock.Mock{},
	}
}

// ID mock.
func (mock *SessionMock) ID() string {
	args := mock.Called()
	return args.String(0)
}

// SendText mock.
func (mock *SessionMock) SendText(text string) error {
	args := mock.Called(text)
	return args.Error(0)
}

// Join mock.
func (mock *SessionMock) Join(room string) error {
	args := mock.Called(room)
	return args.Error(0)
}

// Leave mock.
func (mock *SessionMock) Leave(room string) bool {
	args := mock.Called(room)
	return args.Bool(0)
}

// Rooms mock.
func (mock *SessionMock) Rooms() []string {
	args := mock.Called()
	return args.Get(0).([]string)
}

// Broadcast mock.
func (mock *SessionMock) Broadcast(ctx context.Context, room string, msg wsengine.Message) (wsrooms.BroadcastResult, error) {
	args := mock.Called(ctx, room, msg)
	return args.Get(0).(wsrooms.BroadcastResult), args.Error(1)
}

// Close mock.
func (mock *SessionMock) Close(code wsframe.CloseCode, reason string) error {
	args := mock.Called(code, reason)
	return args.Error(0)
}

// Mock for Publisher
type PublisherMock struct {
	mock.Mock
}

// Factory
func NewPublisherMock() *PublisherMock {
	return &PublisherMock{
		Mock: mock.Mock{},
	}
}

// Broadcast mock.
func (mock *PublisherMock) Broadcast(ctx context.Context, room string, msg wsengine.Message) (wsrooms.BroadcastResult, error) {
	args := mock.Called(ctx, room, msg)
	return args.Get(0).(wsrooms.BroadcastResult), args.Error(1)
}

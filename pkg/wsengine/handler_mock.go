package wsengine

import (
	"context"
	"net/http"
	"sync"

	"github.com/gbdevw/gowsrt/pkg/actor"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/stretchr/testify/mock"
)

// Mock for ConnectionHandler and SignalHandler
//
// Connections are recorded by the mock and only their ID is passed to mock.Called: the
// connection loop keeps mutating the connection while callbacks run. Use Connection to get the
// connection behind an ID from a Run function.
type ConnectionHandlerMock struct {
	mock.Mock
	// Connection ID -> *Connection
	conns sync.Map
}

// Factory
func NewConnectionHandlerMock() *ConnectionHandlerMock {
	return &ConnectionHandlerMock{
		Mock: mock.Mock{},
	}
}

// Connection returns a connection previously handed to one of the callbacks.
func (mock *ConnectionHandlerMock) Connection(id string) *Connection {
	conn, ok := mock.conns.Load(id)
	if !ok {
		return nil
	}
	return conn.(*Connection)
}

func (mock *ConnectionHandlerMock) record(conn *Connection) string {
	mock.conns.Store(conn.ID(), conn)
	return conn.ID()
}

// OnConnect mock. Arguments: ctx, connection ID, path, header.
func (mock *ConnectionHandlerMock) OnConnect(ctx context.Context, conn *Connection, path string, header http.Header) error {
	args := mock.Called(ctx, mock.record(conn), path, header)
	return args.Error(0)
}

// OnMessage mock. Arguments: ctx, connection ID, message.
func (mock *ConnectionHandlerMock) OnMessage(ctx context.Context, conn *Connection, msg Message) {
	mock.Called(ctx, mock.record(conn), msg)
}

// OnClose mock. Arguments: ctx, connection ID, code, reason.
func (mock *ConnectionHandlerMock) OnClose(ctx context.Context, conn *Connection, code wsframe.CloseCode, reason string) {
	mock.Called(ctx, mock.record(conn), code, reason)
}

// OnSignal mock. Arguments: ctx, connection ID, envelope.
func (mock *ConnectionHandlerMock) OnSignal(ctx context.Context, conn *Connection, env actor.Envelope) {
	mock.Called(ctx, mock.record(conn), env)
}

package demochat

import (
	"context"

	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
)

// Client session as seen by the application. Implemented by *wsengine.Connection.
type Session interface {
	// Unique session ID
	ID() string
	// Queue a text message for the client
	SendText(text string) error
	// Join a room
	Join(room string) error
	// Leave a room. Returns false if the session was not a member.
	Leave(room string) bool
	// Rooms joined by the session
	Rooms() []string
	// Send a message to every other member of a room
	Broadcast(ctx context.Context, room string, msg wsengine.Message) (wsrooms.BroadcastResult, error)
	// Start the close handshake
	Close(code wsframe.CloseCode, reason string) error
}

var _ Session = (*wsengine.Connection)(nil)

// Sends a message to every member of a room. Implemented by *wsengine.Server.
type Publisher interface {
	Broadcast(ctx context.Context, room string, msg wsengine.Message) (wsrooms.BroadcastResult, error)
}

var _ Publisher = (*wsengine.Server)(nil)

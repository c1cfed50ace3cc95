package wsengine

import (
	"context"
	"net/http"

	"github.com/gbdevw/gowsrt/pkg/actor"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
)

// # Description
//
// Application callbacks of a websocket server.
//
// The callbacks of one connection are called sequentially, in event order, by the actor process
// consuming the connection mailbox. They never run on the connection loop: a slow callback delays
// the next callbacks of its connection, not the protocol engine.
//
// A panic in a callback closes the connection with 1011.
type ConnectionHandler interface {
	// # Description
	//
	// Called once the upgrade has completed. Returning an error closes the connection with 1008
	// and no other callback will be called for the connection.
	//
	// # Inputs
	//
	//   - ctx: Context bound to the connection callbacks.
	//   - conn: The new connection.
	//   - path: Path of the upgrade request.
	//   - header: Headers of the upgrade request.
	OnConnect(ctx context.Context, conn *Connection, path string, header http.Header) error
	// Called for each complete message received from the peer.
	OnMessage(ctx context.Context, conn *Connection, msg Message)
	// # Description
	//
	// Called once after the connection has been shut down.
	//
	// # Inputs
	//
	//   - ctx: Context bound to the connection callbacks.
	//   - conn: The closed connection.
	//   - code: Close code received from the peer, sent by the server, 1005 if none was provided
	//     or 1006 if the connection was lost.
	//   - reason: Close reason.
	OnClose(ctx context.Context, conn *Connection, code wsframe.CloseCode, reason string)
}

// Optional interface a ConnectionHandler can implement to consume the application envelopes
// sent to a connection mailbox (see Connection.Mailbox).
type SignalHandler interface {
	// Called for each envelope carrying a non reserved tag.
	OnSignal(ctx context.Context, conn *Connection, env actor.Envelope)
}

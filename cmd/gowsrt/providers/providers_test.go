package providers

import (
	"context"
	"testing"

	"github.com/gbdevw/gowsrt/cmd/gowsrt/configuration"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Test the providers build a server which starts and stops with the lifecycle.
func TestProvideWebsocketServer(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	ctx := ProvideApplicationContext()
	config := configuration.Configuration{
		Addr:                "localhost:0",
		SchedulerWorkers:    "2",
		CloseGracePeriodMs:  "200",
		HeartbeatIntervalMs: "50",
	}
	logger := zap.NewNop()
	tp, err := ProvideTracerProvider(lc, ctx, config)
	require.NoError(t, err)
	opts, err := ProvideServerOptions(config)
	require.NoError(t, err)
	rooms := ProvideRoomManager(opts, logger, tp)
	app := ProvideChatApplication(logger, tp)
	srv, err := ProvideWebsocketServer(lc, ctx, config, opts, app, rooms, logger, tp)
	require.NoError(t, err)
	require.NoError(t, InvokeHeartbeat(lc, ctx, config, app, srv, logger))
	lc.RequireStart()
	conn, _, err := websocket.Dial(context.Background(), "ws://"+srv.Addr()+"/chat", nil)
	require.NoError(t, err)
	lc.RequireStop()
	_, _, err = conn.Read(context.Background())
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

// Test an invalid configuration is refused.
func TestProvideServerOptionsError(t *testing.T) {
	_, err := ProvideServerOptions(configuration.Configuration{OutboxCapacity: "-1"})
	require.Error(t, err)
}

package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/gbdevw/gowsrt/cmd/gowsrt/configuration"
	"github.com/gbdevw/gowsrt/pkg/demochat"
	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provide the websocket server and register start/stop hooks to start/stop the server
func ProvideWebsocketServer(
	lc fx.Lifecycle,
	ctx context.Context,
	config configuration.Configuration,
	opts *wsengine.ServerConfigurationOptions,
	app *demochat.Application,
	rooms *wsrooms.Manager,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider) (*wsengine.Server, error) {
	// Build server
	srv, err := wsengine.NewServer(ctx, &http.Server{Addr: config.ListenAddr()}, app, rooms, opts, logger.Named("wsengine"), tracerProvider, nil)
	if err != nil {
		return nil, err
	}
	// Register Start and Stop hooks to Start and Stop the websocket server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start()
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop()
		},
	})
	return srv, nil
}

// Run the chat heartbeat publication while the application runs
func InvokeHeartbeat(lc fx.Lifecycle, ctx context.Context, config configuration.Configuration, app *demochat.Application, srv *wsengine.Server, logger *zap.Logger) error {
	intervalMs, err := config.HeartbeatInterval()
	if err != nil {
		return err
	}
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				err := app.RunHeartbeat(hbCtx, srv, time.Duration(intervalMs)*time.Millisecond)
				logger.Info("heartbeat publication stopped", zap.Error(err))
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
	return nil
}

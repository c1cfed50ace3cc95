package main

import (
	"github.com/gbdevw/gowsrt/cmd/gowsrt/configuration"
	"github.com/gbdevw/gowsrt/cmd/gowsrt/providers"
	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	fx.New(options()).Run()
}

func options() fx.Option {
	return fx.Options(
		fx.Provide(providers.ProvideApplicationContext),
		fx.Provide(configuration.LoadConfiguration),
		fx.Provide(providers.ProvideLogger),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(providers.ProvideTracerProvider),
		fx.Provide(providers.ProvideServerOptions),
		fx.Provide(providers.ProvideRoomManager),
		fx.Provide(providers.ProvideChatApplication),
		fx.Provide(providers.ProvideWebsocketServer),
		// Use invoke to force dependency to be instanciated and hooks to be registered and executed.
		// The server is invoked first so it starts before and stops after the heartbeat.
		fx.Invoke(func(*wsengine.Server) {}),
		fx.Invoke(providers.InvokeHeartbeat),
	)
}

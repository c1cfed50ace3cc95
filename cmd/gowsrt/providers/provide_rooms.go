package providers

import (
	"github.com/gbdevw/gowsrt/cmd/gowsrt/configuration"
	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func ProvideServerOptions(config configuration.Configuration) (*wsengine.ServerConfigurationOptions, error) {
	return config.ServerOptions()
}

func ProvideRoomManager(opts *wsengine.ServerConfigurationOptions, logger *zap.Logger, tracerProvider trace.TracerProvider) *wsrooms.Manager {
	return wsrooms.NewManager(opts.MaxRoomSize, logger.Named("wsrooms"), tracerProvider)
}

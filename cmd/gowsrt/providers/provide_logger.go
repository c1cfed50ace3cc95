package providers

import (
	"github.com/gbdevw/gowsrt/cmd/gowsrt/configuration"
	"go.uber.org/zap"
)

func ProvideLogger(config configuration.Configuration) (*zap.Logger, error) {
	if configuration.IsEnabled(config.LogDevelopment) {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

package providers

import (
	"github.com/gbdevw/gowsrt/pkg/demochat"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func ProvideChatApplication(logger *zap.Logger, tracerProvider trace.TracerProvider) *demochat.Application {
	return demochat.NewApplication(logger.Named("demochat"), tracerProvider)
}

package wsengine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gbdevw/gowsrt/pkg/actor"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Package private decorator used to trace user provided callbacks
type handlerInstrumentationDecorator struct {
	// Tracer used to instrument code
	tracer trace.Tracer
	// Decorated ConnectionHandler implementation
	decorated ConnectionHandler
}

// # Description
//
// Build and return a new decorator which instrument a provided ConnectionHandler implementation.
//
// # Inputs
//
//   - decorated: The ConnectionHandler implementation to decorate. Must not be nil.
//   - tracerProvider: Tracer provider used to get a tracer. If nil, global tracer provider will be used.
//
// # Returns
//
// A new instrumentation decorator for the provided ConnectionHandler implementation or an error
// if decorated is nil.
func newHandlerInstrumentationDecorator(decorated ConnectionHandler, tracerProvider trace.TracerProvider) (*handlerInstrumentationDecorator, error) {
	if decorated == nil {
		return nil, fmt.Errorf("provided decorated is nil")
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &handlerInstrumentationDecorator{
		decorated: decorated,
		tracer:    tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}, nil
}

// Instrument decorated.OnConnect call
func (decorator *handlerInstrumentationDecorator) OnConnect(ctx context.Context, conn *Connection, path string, header http.Header) error {
	ctx, span := decorator.tracer.Start(ctx, spanOnConnect,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, conn.ID()),
			attribute.String(attrPath, path),
		))
	defer span.End()
	err := decorator.decorated.OnConnect(ctx, conn, path, header)
	return handlePotentialError(err, span)
}

// Instrument decorated.OnMessage call
func (decorator *handlerInstrumentationDecorator) OnMessage(ctx context.Context, conn *Connection, msg Message) {
	ctx, span := decorator.tracer.Start(ctx, spanOnMessage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, conn.ID()),
			attribute.String(attrMsgType, msg.Type.String()),
			attribute.Int(attrMsgLength, len(msg.Data)),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	decorator.decorated.OnMessage(ctx, conn, msg)
}

// Instrument decorated.OnClose call
func (decorator *handlerInstrumentationDecorator) OnClose(ctx context.Context, conn *Connection, code wsframe.CloseCode, reason string) {
	ctx, span := decorator.tracer.Start(ctx, spanOnClose,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrConnectionId, conn.ID()),
			attribute.Int(attrCloseCode, int(code)),
			attribute.String(attrCloseReason, reason),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	decorator.decorated.OnClose(ctx, conn, code, reason)
}

// Forward application envelopes if the decorated handler consumes them
func (decorator *handlerInstrumentationDecorator) OnSignal(ctx context.Context, conn *Connection, env actor.Envelope) {
	if signals, ok := decorator.decorated.(SignalHandler); ok {
		signals.OnSignal(ctx, conn, env)
	}
}

package wsengine

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING RELATED CONSTANTS                                                                     */
/*************************************************************************************************/

// Constants used for tracing purpose.
const (
	// Package name used by library tracer and meter
	pkgName = "wsengine"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events and attributes
	namespace = "wsengine"
	// Sub-namespace used by spans related to connections
	connectionNamespace = namespace + ".connection"
	// Sub-namespace used by spans related to user provided callbacks
	callbacksNamespace = namespace + ".callback"

	// Name of span used to trace Start public method
	spanServerStart = namespace + ".start"
	// Name of span used to trace Stop public method
	spanServerStop = namespace + ".stop"
	// Name of span used to trace the upgrade of an incoming HTTP request
	spanServerAccept = namespace + ".accept"
	// Name of span used to trace CloseConnections
	spanServerCloseConnections = namespace + ".close_connections"
	// Name of span used to trace a connection termination
	spanConnectionTerminate = connectionNamespace + ".terminate"
	// Name of span used to trace OnConnect callback call
	spanOnConnect = callbacksNamespace + ".on_connect"
	// Name of span used to trace OnMessage callback call
	spanOnMessage = callbacksNamespace + ".on_message"
	// Name of span used to trace OnClose callback call
	spanOnClose = callbacksNamespace + ".on_close"

	// Event used in span to signal a connection has been closed by the server
	eventConnectionClosed = namespace + ".connection_closed"

	// Attribute used to store the connection ID
	attrConnectionId = namespace + ".connection.id"
	// Attribute used to store the request path
	attrPath = namespace + ".path"
	// Attribute used to store the listening address
	attrAddr = namespace + ".addr"
	// Attribute used to indicate close code
	attrCloseCode = namespace + ".close.code"
	// Attribute used to indicate close reason
	attrCloseReason = namespace + ".close.reason"
	// Attribute used to indicate received message length
	attrMsgLength = namespace + ".message.length"
	// Attribute used to indicate received message type
	attrMsgType = namespace + ".message.type"
)

// # Description
//
// If the error is not nil, the function records the input error in the provided span and set the
// span status with an error code and description. In the other case, the span status is set with
// a Ok code. The function returns the provided error in all cases.
//
// # Usage tips
//
// The function is meant to replace code blocks like this one:
//
//		if err != nil {
//				span.RecordError(err)
//				span.SetStatus(codes.Error, codes.Error.String())
//				return err
//		} else {
//			span.SetStatus(codes.Ok, codes.Ok.String())
//			return nil
//	}
//
// By:
//
//	return handlePotentialError(err, span)
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

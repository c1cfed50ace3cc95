package demochat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gbdevw/gowsrt/pkg/wsengine"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"github.com/go-playground/validator/v10"
	"github.com/sugawarayuuta/sonnet"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Chat application. Implements wsengine.ConnectionHandler.
type Application struct {
	// Validator used to check incoming requests
	validate *validator.Validate
	// When the application has been created
	startTimestamp time.Time
	logger         *zap.Logger
	tracer         trace.Tracer
}

var _ wsengine.ConnectionHandler = (*Application)(nil)

// # Description
//
// Factory which creates a new chat application.
//
// # Inputs
//
//   - logger: Logger used by the application. A Nop logger is used if nil.
//   - tracerProvider: Tracer provider to use to get the tracer that will be used by the
//     application. If nil, the global tracer provider will be used.
//
// # Returns
//
// A new Application.
func NewApplication(logger *zap.Logger, tracerProvider trace.TracerProvider) *Application {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &Application{
		validate:       validator.New(),
		startTimestamp: time.Now().UTC(),
		logger:         logger,
		tracer:         tracerProvider.Tracer(demochat_instrumentation_id),
	}
}

/*****************************************************************************/
/* CONNECTION HANDLER                                                        */
/*****************************************************************************/

// OnConnect accepts connections on / and /chat.
func (app *Application) OnConnect(ctx context.Context, conn *wsengine.Connection, path string, header http.Header) error {
	return app.accept(conn.ID(), path)
}

// OnMessage handles a request from the client.
func (app *Application) OnMessage(ctx context.Context, conn *wsengine.Connection, msg wsengine.Message) {
	app.handleMessage(ctx, conn, msg)
}

// OnClose logs the close status.
func (app *Application) OnClose(ctx context.Context, conn *wsengine.Connection, code wsframe.CloseCode, reason string) {
	app.logger.Info("chat session closed",
		zap.String("connection.id", conn.ID()),
		zap.Int("close.code", int(code)),
		zap.String("close.reason", reason))
}

func (app *Application) accept(sessionId string, path string) error {
	if _, ok := acceptedPaths[path]; !ok {
		app.logger.Info("chat session refused", zap.String("connection.id", sessionId), zap.String("path", path))
		return fmt.Errorf("unknown path %q", path)
	}
	app.logger.Info("chat session opened", zap.String("connection.id", sessionId), zap.String("path", path))
	return nil
}

/*****************************************************************************/
/* REQUEST HANDLING                                                          */
/*****************************************************************************/

// # Description
//
// Function called to handle a single message from the client.
//
// # Inputs
//
//   - ctx: Parent context used for tracing purpose.
//   - session: Client session
//   - msg: Received message
func (app *Application) handleMessage(ctx context.Context, session Session, msg wsengine.Message) {
	ctx, handleSpan := app.tracer.Start(ctx, demochat_span_handle, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_session_id, session.ID()),
	))
	defer handleSpan.End()
	defer handleSpan.SetStatus(codes.Ok, codes.Ok.String())
	if msg.Type != wsengine.TextMessage {
		app.writeErrorMessage(ctx, session, "binary messages are not supported", ERROR_BAD_REQUEST, "")
		return
	}
	// Unmarshal in base Message to be able to extract the message type
	base := new(Message)
	err := sonnet.Unmarshal(msg.Data, base)
	if err != nil {
		handleSpan.RecordError(err)
		app.writeErrorMessage(ctx, session, fmt.Sprintf("could not find type field in message: %s", err.Error()), ERROR_UNKNOWN_MESSAGE_TYPE, "")
		return
	}
	handleSpan.SetAttributes(attribute.String(demochat_span_attr_msg_type, base.MsgType))
	switch base.MsgType {
	case MSG_TYPE_JOIN_REQUEST:
		req := new(JoinRequest)
		if app.decode(ctx, session, msg.Data, req) {
			app.join(ctx, session, req)
		}
	case MSG_TYPE_LEAVE_REQUEST:
		req := new(LeaveRequest)
		if app.decode(ctx, session, msg.Data, req) {
			app.leave(ctx, session, req)
		}
	case MSG_TYPE_SAY_REQUEST:
		req := new(SayRequest)
		if app.decode(ctx, session, msg.Data, req) {
			app.say(ctx, session, req)
		}
	case MSG_TYPE_ECHO_REQUEST:
		req := new(EchoRequest)
		if app.decode(ctx, session, msg.Data, req) {
			app.echo(ctx, session, req)
		}
	case MSG_TYPE_ROOMS_REQUEST:
		req := new(RoomsRequest)
		if app.decode(ctx, session, msg.Data, req) {
			app.rooms(ctx, session, req)
		}
	default:
		app.writeErrorMessage(ctx, session, fmt.Sprintf("unknown message type: %s", base.MsgType), ERROR_UNKNOWN_MESSAGE_TYPE, "")
	}
}

// Unmarshal and validate a request. An error message is written back to the client on failure.
func (app *Application) decode(ctx context.Context, session Session, data []byte, req interface{}) bool {
	err := sonnet.Unmarshal(data, req)
	if err == nil {
		err = app.validate.Struct(req)
	}
	if err != nil {
		// Best effort to give the request ID back
		base := new(Request)
		_ = sonnet.Unmarshal(data, base)
		app.writeErrorMessage(ctx, session, fmt.Sprintf("bad request: %s", err.Error()), ERROR_BAD_REQUEST, base.ReqId)
		return false
	}
	return true
}

func (app *Application) join(ctx context.Context, session Session, req *JoinRequest) {
	ctx, span := app.tracer.Start(ctx, demochat_span_join, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_room, req.Room),
		attribute.String(demochat_span_attr_req_id, req.ReqId),
	))
	defer span.End()
	resp := &JoinResponse{
		Response: okResponse(MSG_TYPE_JOIN_RESPONSE, req.ReqId),
		Data:     &JoinResponseData{Room: req.Room},
	}
	if err := session.Join(req.Room); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		code := ERROR_INTERNAL
		if errors.Is(err, wsrooms.ErrRoomFull) {
			code = ERROR_ROOM_FULL
		}
		resp.Response = errorResponse(MSG_TYPE_JOIN_RESPONSE, req.ReqId, err.Error(), code)
		resp.Data = nil
	} else {
		span.SetStatus(codes.Ok, codes.Ok.String())
		app.logger.Debug("room joined", zap.String("connection.id", session.ID()), zap.String("room", req.Room))
	}
	app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
}

func (app *Application) leave(ctx context.Context, session Session, req *LeaveRequest) {
	ctx, span := app.tracer.Start(ctx, demochat_span_leave, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_room, req.Room),
		attribute.String(demochat_span_attr_req_id, req.ReqId),
	))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	resp := &LeaveResponse{
		Response: okResponse(MSG_TYPE_LEAVE_RESPONSE, req.ReqId),
		Data:     &LeaveResponseData{Room: req.Room},
	}
	if !session.Leave(req.Room) {
		resp.Response = errorResponse(MSG_TYPE_LEAVE_RESPONSE, req.ReqId, fmt.Sprintf("room %s has not been joined", req.Room), ERROR_NOT_JOINED)
		resp.Data = nil
	}
	app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
}

func (app *Application) say(ctx context.Context, session Session, req *SayRequest) {
	ctx, span := app.tracer.Start(ctx, demochat_span_say, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_room, req.Room),
		attribute.String(demochat_span_attr_req_id, req.ReqId),
	))
	defer span.End()
	if !slices.Contains(session.Rooms(), req.Room) {
		span.SetStatus(codes.Ok, codes.Ok.String())
		resp := &SayResponse{Response: errorResponse(MSG_TYPE_SAY_RESPONSE, req.ReqId, fmt.Sprintf("room %s has not been joined", req.Room), ERROR_NOT_JOINED)}
		app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
		return
	}
	publication, err := sonnet.Marshal(&Chat{
		Message:   Message{MsgType: MSG_TYPE_CHAT},
		Room:      req.Room,
		From:      session.ID(),
		Text:      req.Text,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	var result wsrooms.BroadcastResult
	if err == nil {
		result, err = session.Broadcast(ctx, req.Room, wsengine.Message{Type: wsengine.TextMessage, Data: publication})
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		resp := &SayResponse{Response: errorResponse(MSG_TYPE_SAY_RESPONSE, req.ReqId, err.Error(), ERROR_INTERNAL)}
		app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
		return
	}
	span.SetAttributes(
		attribute.Int(demochat_span_attr_delivered, result.Delivered),
		attribute.Int(demochat_span_attr_failed, result.Failed),
	)
	span.SetStatus(codes.Ok, codes.Ok.String())
	resp := &SayResponse{
		Response: okResponse(MSG_TYPE_SAY_RESPONSE, req.ReqId),
		Data: &SayResponseData{
			Room:      req.Room,
			Delivered: result.Delivered,
			Failed:    result.Failed,
		},
	}
	app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
}

func (app *Application) echo(ctx context.Context, session Session, req *EchoRequest) {
	ctx, span := app.tracer.Start(ctx, demochat_span_echo, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.Bool(demochat_span_attr_echo_err, req.Err),
		attribute.String(demochat_span_attr_req_id, req.ReqId),
	))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	resp := &EchoResponse{
		Response: okResponse(MSG_TYPE_ECHO_RESPONSE, req.ReqId),
		Data:     &EchoResponseData{Echo: req.Echo},
	}
	if req.Err {
		resp.Response = errorResponse(MSG_TYPE_ECHO_RESPONSE, req.ReqId, "error asked by client", ERROR_ECHO_ASKED_BY_CLIENT)
		resp.Data = nil
	}
	app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
}

func (app *Application) rooms(ctx context.Context, session Session, req *RoomsRequest) {
	ctx, span := app.tracer.Start(ctx, demochat_span_rooms, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_req_id, req.ReqId),
	))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	rooms := session.Rooms()
	if rooms == nil {
		rooms = []string{}
	}
	resp := &RoomsResponse{
		Response: okResponse(MSG_TYPE_ROOMS_RESPONSE, req.ReqId),
		Data:     &RoomsResponseData{Rooms: rooms},
	}
	app.writeResponse(ctx, session, resp.MsgType, resp.Status, resp)
}

/*****************************************************************************/
/* HEARTBEAT                                                                 */
/*****************************************************************************/

// # Description
//
// Publish a heartbeat to the members of the heartbeat room on a regular basis. The method
// blocks until ctx is done.
//
// # Returns
//
// An error if interval is not positive, ctx error otherwise.
func (app *Application) RunHeartbeat(ctx context.Context, publisher Publisher, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive. Got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			_, _ = app.publishHeartbeat(ctx, publisher, now)
		}
	}
}

func (app *Application) publishHeartbeat(ctx context.Context, publisher Publisher, now time.Time) (wsrooms.BroadcastResult, error) {
	ctx, span := app.tracer.Start(ctx, demochat_span_heartbeat, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	data, err := sonnet.Marshal(&Heartbeat{
		Message:   Message{MsgType: MSG_TYPE_HEARTBEAT},
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Uptime:    strconv.FormatInt(int64(now.Sub(app.startTimestamp).Seconds()), 10),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return wsrooms.BroadcastResult{}, err
	}
	result, err := publisher.Broadcast(ctx, ROOM_HEARTBEAT, wsengine.Message{Type: wsengine.TextMessage, Data: data})
	if err != nil {
		app.logger.Warn("heartbeat publication failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return result, err
	}
	span.SetAttributes(
		attribute.Int(demochat_span_attr_delivered, result.Delivered),
		attribute.Int(demochat_span_attr_failed, result.Failed),
	)
	span.SetStatus(codes.Ok, codes.Ok.String())
	return result, nil
}

/*****************************************************************************/
/* RESPONSES                                                                 */
/*****************************************************************************/

func okResponse(msgType string, reqId string) Response {
	return Response{
		Message: Message{MsgType: msgType},
		ReqId:   reqId,
		Status:  RESPONSE_STATUS_OK,
	}
}

func errorResponse(msgType string, reqId string, message string, code string) Response {
	return Response{
		Message: Message{MsgType: msgType},
		ReqId:   reqId,
		Status:  RESPONSE_STATUS_ERROR,
		Err: &ErrorMessageData{
			Message: message,
			Code:    code,
			ReqId:   reqId,
		},
	}
}

// Write an error message when no other response is applicable.
func (app *Application) writeErrorMessage(ctx context.Context, session Session, message string, code string, reqId string) {
	app.writeResponse(ctx, session, MSG_TYPE_ERROR, RESPONSE_STATUS_ERROR, &ErrorMessage{
		Message: Message{MsgType: MSG_TYPE_ERROR},
		ErrorMessageData: ErrorMessageData{
			Message: message,
			Code:    code,
			ReqId:   reqId,
		},
	})
}

// Marshal the response and queue it. Failures are logged: the client is probably gone.
func (app *Application) writeResponse(ctx context.Context, session Session, msgType string, status string, resp interface{}) {
	_, span := app.tracer.Start(ctx, demochat_span_write_response, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(demochat_span_attr_response_type, msgType),
		attribute.String(demochat_span_attr_response_state, status),
	))
	defer span.End()
	data, err := sonnet.Marshal(resp)
	if err == nil {
		err = session.SendText(string(data))
	}
	if err != nil {
		app.logger.Warn("could not write response", zap.String("connection.id", session.ID()), zap.String("type", msgType), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
}

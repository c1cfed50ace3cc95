package wsengine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/eapache/queue"
	"github.com/gbdevw/gowsrt/pkg/actor"
	"github.com/gbdevw/gowsrt/pkg/scheduler"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Lifecycle state of a connection.
type ConnectionState int32

const (
	// Upgrade in progress
	StateHandshaking ConnectionState = iota
	// Upgrade completed, messages flow both ways
	StateOpen
	// A close frame has been sent or received
	StateClosing
	// Transport shut down. Terminal.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// Size of the buffer used by a single read
	readBufferSize = 4096
	// Maximum number of outbox frames written by a single loop iteration
	maxWritesPerStep = 64
)

// Per connection settings derived from the server options.
type connectionSettings struct {
	maxMessageSize  int64
	maxFramePayload int64
	pingInterval    time.Duration
	pongTimeout     time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	closeGrace      time.Duration
	outboxCapacity  int
}

func settingsFromOptions(opts *ServerConfigurationOptions) connectionSettings {
	return connectionSettings{
		maxMessageSize:  opts.MaxMessageSizeBytes,
		maxFramePayload: opts.MaxFramePayloadBytes,
		pingInterval:    msToDuration(opts.PingIntervalMs),
		pongTimeout:     msToDuration(opts.PongTimeoutMs),
		readTimeout:     msToDuration(opts.ReadTimeoutMs),
		writeTimeout:    msToDuration(opts.WriteTimeoutMs),
		closeGrace:      msToDuration(opts.CloseGracePeriodMs),
		outboxCapacity:  opts.OutboxCapacity,
	}
}

// Frame waiting in the outbox: either owned bytes or a shared broadcast payload.
type outboundFrame struct {
	data   []byte
	shared *wsrooms.SharedPayload
}

func (f outboundFrame) bytes() []byte {
	if f.shared != nil {
		return f.shared.Bytes()
	}
	return f.data
}

func (f outboundFrame) release() {
	if f.shared != nil {
		f.shared.Release()
	}
}

// Close intent posted by Close and applied by the connection loop.
type closeRequest struct {
	code   wsframe.CloseCode
	reason string
}

// Dependencies and settings used to build a connection.
type connectionParams struct {
	transport   Transport
	path        string
	header      http.Header
	remoteAddr  string
	leftover    []byte
	settings    connectionSettings
	handler     ConnectionHandler
	rooms       *wsrooms.Manager
	logger      *zap.Logger
	tracer      trace.Tracer
	instruments *serverInstruments
	onTerminate func(conn *Connection)
}

// # Description
//
// A websocket connection after the upgrade.
//
// The connection is a scheduler.Task: every Step runs one iteration of the connection loop
//  1. read with a bounded deadline and feed the frames to the decoder and the reassembler
//  2. poll the liveness monitor
//  3. write the pending control frames and outbox frames
//  4. shut the transport down once the close handshake is over
//
// All writes go through the loop, so frames never interleave on the wire. Complete messages and
// lifecycle events are posted to the connection mailbox and consumed by an actor process which
// calls the ConnectionHandler.
//
// The exported methods are safe for concurrent use.
type Connection struct {
	id          string
	path        string
	header      http.Header
	remoteAddr  string
	transport   Transport
	settings    connectionSettings
	handler     ConnectionHandler
	rooms       *wsrooms.Manager
	logger      *zap.Logger
	tracer      trace.Tracer
	instruments *serverInstruments
	// Context given to callbacks and spans
	ctx     context.Context
	mailbox *actor.Mailbox
	process *actor.Process
	state   atomic.Int32

	// Owned by the connection loop
	decoder     wsframe.Decoder
	reassembler *Reassembler
	liveness    *LivenessMonitor
	closer      *CloseStateMachine
	pending     []byte
	scratch     []byte
	control     [][]byte
	// Close frame waiting to be written
	closeFrame []byte
	// Whether the outbox must be flushed before closeFrame is written
	flushBeforeClose bool
	primed           bool

	// Shared with producers
	mu       sync.Mutex
	outbox   *queue.Queue
	closing  bool
	closeReq *closeRequest

	// Only accessed by the actor process
	rejected bool

	terminateOnce sync.Once
	onTerminate   func(conn *Connection)
	done          chan struct{}
}

// Build a connection in Handshaking state. Call start once the 101 response has been written.
func newConnection(ctx context.Context, params connectionParams) *Connection {
	id := uuid.NewString()
	logger := params.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := params.tracer
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer(pkgName)
	}
	now := time.Now()
	conn := &Connection{
		id:          id,
		path:        params.path,
		header:      params.header,
		remoteAddr:  params.remoteAddr,
		transport:   params.transport,
		settings:    params.settings,
		handler:     params.handler,
		rooms:       params.rooms,
		logger:      logger.With(zap.String("connection.id", id)),
		tracer:      tracer,
		instruments: params.instruments,
		ctx:         context.WithoutCancel(ctx),
		mailbox:     actor.NewMailbox(0),
		decoder: wsframe.Decoder{
			MaxPayloadBytes: params.settings.maxFramePayload,
			RequireMask:     true,
		},
		reassembler: NewReassembler(params.settings.maxMessageSize),
		liveness:    NewLivenessMonitor(now, params.settings.pingInterval, params.settings.pongTimeout),
		closer:      NewCloseStateMachine(params.settings.closeGrace),
		pending:     append([]byte(nil), params.leftover...),
		scratch:     make([]byte, readBufferSize),
		outbox:      queue.New(),
		onTerminate: params.onTerminate,
		done:        make(chan struct{}),
	}
	conn.state.Store(int32(StateHandshaking))
	return conn
}

// Move the connection to Open and start the actor process which runs the callbacks.
func (c *Connection) start() {
	c.state.Store(int32(StateOpen))
	_ = c.mailbox.Post(ToEnvelope(Event{Kind: EventConnect}))
	c.process = actor.Spawn(c.ctx, c.mailbox, c.dispatch, c.onProcessExit)
}

/*************************************************************************************************/
/* PUBLIC API                                                                                    */
/*************************************************************************************************/

// ID returns the connection unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Path returns the path of the upgrade request.
func (c *Connection) Path() string {
	return c.path
}

// Header returns the headers of the upgrade request.
func (c *Connection) Header() http.Header {
	return c.header
}

// RemoteAddr returns the peer address, if known.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the connection lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// # Description
//
// Return the connection mailbox. Applications can send their own envelopes to the connection with
// Mailbox().Send: they are handed to the handler OnSignal callback, in order with the websocket
// events, if the handler implements SignalHandler.
func (c *Connection) Mailbox() *actor.Mailbox {
	return c.mailbox
}

// Done is closed once the connection has been shut down and cleaned up.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// # Description
//
// Queue a text message.
//
// # Returns
//
// ErrInvalidText if text is not valid UTF-8, ErrConnectionClosed if the connection is closing,
// ErrOutboxFull if too many messages are pending.
func (c *Connection) SendText(text string) error {
	if !utf8.ValidString(text) {
		return ErrInvalidText
	}
	return c.send(wsframe.OpText, []byte(text))
}

// # Description
//
// Queue a binary message.
//
// # Returns
//
// ErrConnectionClosed if the connection is closing, ErrOutboxFull if too many messages are pending.
func (c *Connection) SendBinary(data []byte) error {
	return c.send(wsframe.OpBinary, data)
}

// Send queues a message of the provided type.
func (c *Connection) Send(msg Message) error {
	if msg.Type == TextMessage {
		return c.SendText(string(msg.Data))
	}
	return c.SendBinary(msg.Data)
}

// # Description
//
// Ask the connection to start the close handshake. The request is applied by the next loop
// iteration: messages already queued are written first, then the close frame. The transport is
// shut down once the peer answered or after the close grace period.
//
// # Returns
//
// ErrInvalidCloseCode if code cannot be sent on the wire, ErrConnectionClosed if the connection
// is already closing.
func (c *Connection) Close(code wsframe.CloseCode, reason string) error {
	if !code.IsSendable() {
		return fmt.Errorf("%w: %d", ErrInvalidCloseCode, code)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrConnectionClosed
	}
	c.closing = true
	c.closeReq = &closeRequest{code: code, reason: reason}
	return nil
}

// # Description
//
// Queue a shared, pre-encoded frame. On success the connection owns the reference it was given
// and releases it once the frame has been written or dropped.
//
// # Returns
//
// An error wrapping wsrooms.ErrMemberGone if the connection is closing, ErrOutboxFull if too many
// messages are pending.
func (c *Connection) Deliver(payload *wsrooms.SharedPayload) error {
	err := c.enqueue(outboundFrame{shared: payload})
	if errors.Is(err, ErrConnectionClosed) {
		return fmt.Errorf("%w: %w", wsrooms.ErrMemberGone, err)
	}
	return err
}

// # Description
//
// Add the connection to a room. Join and termination are mutually exclusive: once the connection
// is closing it cannot join any room, so the rooms left on termination are final.
//
// # Returns
//
// ErrConnectionClosed if the connection is closing, wsrooms.ErrRoomFull if the room is full.
func (c *Connection) Join(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrConnectionClosed
	}
	return c.rooms.Join(room, c)
}

// Leave removes the connection from a room.
func (c *Connection) Leave(room string) bool {
	return c.rooms.Leave(room, c.id)
}

// Rooms returns the rooms the connection belongs to.
func (c *Connection) Rooms() []string {
	return c.rooms.Rooms(c.id)
}

// Broadcast sends a message to every other member of a room.
func (c *Connection) Broadcast(ctx context.Context, room string, msg Message) (wsrooms.BroadcastResult, error) {
	return broadcast(ctx, c.rooms, room, msg, c.id)
}

func (c *Connection) send(opcode wsframe.Opcode, payload []byte) error {
	frame, err := wsframe.Encode(opcode, true, payload)
	if err != nil {
		return err
	}
	return c.enqueue(outboundFrame{data: frame})
}

func (c *Connection) enqueue(frame outboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return ErrConnectionClosed
	}
	if c.outbox.Length() >= c.settings.outboxCapacity {
		return ErrOutboxFull
	}
	c.outbox.Add(frame)
	return nil
}

func (c *Connection) popOutbox() (outboundFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outbox.Length() == 0 {
		return outboundFrame{}, false
	}
	return c.outbox.Remove().(outboundFrame), true
}

func (c *Connection) outboxLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.Length()
}

/*************************************************************************************************/
/* CONNECTION LOOP                                                                               */
/*************************************************************************************************/

// # Description
//
// Run one iteration of the connection loop. The only blocking call is the read, bounded by the
// read timeout. ctx is cancelled when the scheduler stops: the connection then starts a 1001 close
// handshake.
//
// # Returns
//
// False once the transport has been shut down.
func (c *Connection) Step(ctx context.Context) bool {
	if c.closer.State() == CloseStateTransportShutdown {
		return false
	}
	now := time.Now()
	if !c.primed {
		c.primed = true
		if len(c.pending) > 0 {
			c.processPending(now)
		}
	}
	if ctx.Err() != nil {
		_ = c.Close(wsframe.CloseGoingAway, "server shutdown")
	}
	c.applyCloseRequest(now)
	if c.readable() {
		c.readOnce(now)
	}
	now = time.Now()
	if c.closer.State() == CloseStateOpen {
		c.pollLiveness(now)
	}
	c.flush()
	if c.closer.ShouldShutdown(time.Now()) {
		c.terminate()
		return false
	}
	return true
}

// # Description
//
// Called by the scheduler instead of further steps: the loop panicked (1011) or the scheduler
// gave up on the connection while stopping (1001). A close frame is sent best effort and the
// connection is terminated.
func (c *Connection) Abort(err error) {
	code, reason := wsframe.CloseInternalError, "internal error"
	if errors.Is(err, scheduler.ErrStopped) {
		code, reason = wsframe.CloseGoingAway, "server shutdown"
	}
	c.logger.Warn("connection loop aborted", zap.Error(err))
	if frame := c.closer.Fail(code, reason); frame != nil {
		c.closeFrame = frame
	}
	c.terminate()
}

// Frames are read until the close handshake no longer expects any.
func (c *Connection) readable() bool {
	state := c.closer.State()
	return state == CloseStateOpen || state == CloseStateLocalCloseSent
}

func (c *Connection) applyCloseRequest(now time.Time) {
	c.mu.Lock()
	req := c.closeReq
	c.closeReq = nil
	c.mu.Unlock()
	if req == nil {
		return
	}
	frame, err := c.closer.Initiate(now, req.code, req.reason)
	if err != nil {
		return
	}
	c.logger.Debug("closing connection", zap.Uint16("close.code", uint16(req.code)), zap.String("close.reason", req.reason))
	c.closeFrame = frame
	c.flushBeforeClose = true
	c.markClosing()
}

func (c *Connection) readOnce(now time.Time) {
	if err := c.transport.SetReadDeadline(now.Add(c.settings.readTimeout)); err != nil {
		c.abandon(err)
		return
	}
	n, err := c.transport.Read(c.scratch)
	if n > 0 {
		c.pending = append(c.pending, c.scratch[:n]...)
		c.processPending(now)
	}
	if err != nil && !isTimeout(err) {
		c.abandon(err)
	}
}

// Decode and handle every complete frame buffered so far.
func (c *Connection) processPending(now time.Time) {
	consumed := 0
	for c.readable() {
		frame, n, err := c.decoder.Decode(c.pending[consumed:])
		if err != nil {
			c.failProtocol(err)
			break
		}
		if frame == nil {
			break
		}
		consumed += n
		c.handleFrame(now, frame)
	}
	if consumed > 0 {
		c.pending = append(c.pending[:0], c.pending[consumed:]...)
	}
}

func (c *Connection) handleFrame(now time.Time, frame *wsframe.Frame) {
	switch frame.Opcode {
	case wsframe.OpPing:
		if c.closer.State() == CloseStateOpen {
			pong, err := wsframe.Encode(wsframe.OpPong, true, frame.Payload)
			if err == nil {
				c.control = append(c.control, pong)
			}
		}
	case wsframe.OpPong:
		if c.liveness.MatchesPong(frame.Payload) {
			c.liveness.RecordPongReceived(now)
		}
	case wsframe.OpClose:
		if _, _, err := wsframe.ParseClosePayload(frame.Payload); err != nil {
			c.failProtocol(err)
			return
		}
		if reply := c.closer.Receive(now, frame.Payload); reply != nil {
			c.closeFrame = reply
			c.flushBeforeClose = true
		}
		c.markClosing()
	default:
		msg, err := c.reassembler.Push(frame)
		if err != nil {
			c.failProtocol(err)
			return
		}
		if msg != nil {
			c.instruments.recordMessage(c.ctx, msg.Type)
			if err := c.mailbox.Post(ToEnvelope(Event{Kind: EventMessage, Message: *msg})); err != nil {
				c.logger.Debug("message dropped", zap.Error(err))
			}
		}
	}
}

func (c *Connection) pollLiveness(now time.Time) {
	if c.liveness.IsOverdue(now) {
		c.logger.Info("pong timeout")
		if frame := c.closer.Fail(wsframe.CloseGoingAway, "pong timeout"); frame != nil {
			c.closeFrame = frame
		}
		c.flushBeforeClose = false
		c.markClosing()
		return
	}
	if c.liveness.ShouldSendPing(now) {
		ping, err := wsframe.Encode(wsframe.OpPing, true, c.liveness.NextPingPayload())
		if err == nil {
			c.control = append(c.control, ping)
		}
		c.liveness.RecordPingSent(now)
	}
}

// Fail the connection with the close code carried by a protocol error.
func (c *Connection) failProtocol(err error) {
	code, reason := wsframe.CloseProtocolError, err.Error()
	var perr *wsframe.ProtocolError
	if errors.As(err, &perr) {
		code, reason = perr.Code, perr.Reason
	}
	c.logger.Debug("protocol violation", zap.Uint16("close.code", uint16(code)), zap.String("close.reason", reason))
	c.instruments.recordProtocolError(c.ctx, code)
	if frame := c.closer.Fail(code, reason); frame != nil {
		c.closeFrame = frame
	}
	c.flushBeforeClose = false
	c.markClosing()
}

// The transport is unusable: no close frame can be sent anymore.
func (c *Connection) abandon(err error) {
	c.logger.Debug("transport error", zap.Error(err))
	c.closer.Abandon(err.Error())
	c.closeFrame = nil
	c.control = nil
	c.markClosing()
}

// Write the pending control frames, the outbox and the close frame, in that order. All the writes
// of one flush share a single write deadline.
func (c *Connection) flush() {
	if len(c.control) == 0 && c.closeFrame == nil && c.outboxLen() == 0 {
		return
	}
	if !c.armWriteDeadline() {
		return
	}
	for len(c.control) > 0 {
		if !c.write(c.control[0]) {
			return
		}
		c.control = c.control[1:]
	}
	dataAllowed := c.closer.State() == CloseStateOpen
	if c.closeFrame != nil {
		dataAllowed = c.flushBeforeClose
	}
	if dataAllowed {
		for writes := 0; writes < maxWritesPerStep; writes++ {
			frame, ok := c.popOutbox()
			if !ok {
				break
			}
			ok = c.write(frame.bytes())
			frame.release()
			if !ok {
				return
			}
		}
	}
	if c.closeFrame != nil && (!c.flushBeforeClose || c.outboxLen() == 0) {
		frame := c.closeFrame
		c.closeFrame = nil
		if c.write(frame) {
			c.closer.ReplySent()
		}
	}
}

// Bound the writes which follow by the write timeout.
func (c *Connection) armWriteDeadline() bool {
	if c.settings.writeTimeout <= 0 {
		return true
	}
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.settings.writeTimeout)); err != nil {
		c.abandon(err)
		return false
	}
	return true
}

// Write a complete frame in a single call, under the deadline armed by the caller.
func (c *Connection) write(frame []byte) bool {
	if _, err := c.transport.Write(frame); err != nil {
		c.abandon(err)
		return false
	}
	return true
}

// Refuse further sends and report the connection as closing.
func (c *Connection) markClosing() {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

// Drop the frames left in the outbox.
func (c *Connection) drainOutbox() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for c.outbox.Length() > 0 {
		c.outbox.Remove().(outboundFrame).release()
		dropped++
	}
	return dropped
}

// # Description
//
// Shut the connection down. Runs once, whatever the path which led to the shutdown: the pending
// close frame is written best effort, the transport is closed, the connection leaves its rooms
// and the disconnect event is posted to the mailbox.
func (c *Connection) terminate() {
	c.terminateOnce.Do(func() {
		_, span := c.tracer.Start(c.ctx, spanConnectionTerminate, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
			attribute.String(attrConnectionId, c.id),
		))
		defer span.End()
		if c.closeFrame != nil {
			frame := c.closeFrame
			c.closeFrame = nil
			if c.armWriteDeadline() {
				c.write(frame)
			}
		}
		c.closer.Shutdown()
		err := c.transport.Close()
		// Must precede LeaveAll: no Join can succeed afterwards
		c.markClosing()
		c.state.Store(int32(StateClosed))
		dropped := c.drainOutbox()
		left := []string{}
		if c.rooms != nil {
			left = c.rooms.LeaveAll(c.id)
		}
		code, reason := c.closer.Status()
		if err := c.mailbox.Post(ToEnvelope(Event{Kind: EventDisconnect, Code: code, Reason: reason})); err != nil {
			c.logger.Debug("disconnect event dropped", zap.Error(err))
		}
		c.mailbox.Close()
		span.AddEvent(eventConnectionClosed, trace.WithAttributes(
			attribute.Int(attrCloseCode, int(code)),
			attribute.String(attrCloseReason, reason),
		))
		c.logger.Info("connection closed",
			zap.Uint16("close.code", uint16(code)),
			zap.String("close.reason", reason),
			zap.Strings("rooms", left),
			zap.Int("dropped", dropped))
		handlePotentialError(err, span)
		if c.onTerminate != nil {
			c.onTerminate(c)
		}
		close(c.done)
	})
}

/*************************************************************************************************/
/* CALLBACKS                                                                                     */
/*************************************************************************************************/

// Behavior of the actor process: turn envelopes back into handler calls.
func (c *Connection) dispatch(ctx context.Context, env actor.Envelope) error {
	event, ok := FromEnvelope(env)
	if !ok {
		if signals, ok := c.handler.(SignalHandler); ok && !c.rejected {
			signals.OnSignal(ctx, c, env)
		}
		return nil
	}
	switch event.Kind {
	case EventConnect:
		if err := c.handler.OnConnect(ctx, c, c.path, c.header); err != nil {
			c.rejected = true
			c.logger.Info("connection rejected", zap.Error(err))
			_ = c.Close(wsframe.ClosePolicyViolation, "rejected")
		}
	case EventMessage:
		if !c.rejected {
			c.handler.OnMessage(ctx, c, event.Message)
		}
	case EventDisconnect:
		if !c.rejected {
			c.handler.OnClose(ctx, c, event.Code, event.Reason)
		}
		return actor.ErrStop
	}
	return nil
}

func (c *Connection) onProcessExit(err error) {
	var panicErr *actor.PanicError
	if errors.As(err, &panicErr) {
		c.logger.Error("connection handler panicked", zap.Any("panic", panicErr.Value), zap.ByteString("stack", panicErr.Stack))
		_ = c.Close(wsframe.CloseInternalError, "internal error")
		return
	}
	if err != nil {
		c.logger.Warn("connection handler exited", zap.Error(err))
	}
}

// Encode msg once and deliver the shared frame to the members of room, except exceptID.
func broadcast(ctx context.Context, rooms *wsrooms.Manager, room string, msg Message, exceptID string) (wsrooms.BroadcastResult, error) {
	if msg.Type == TextMessage && !utf8.Valid(msg.Data) {
		return wsrooms.BroadcastResult{}, ErrInvalidText
	}
	frame, err := wsframe.Encode(msg.Type.opcode(), true, msg.Data)
	if err != nil {
		return wsrooms.BroadcastResult{}, err
	}
	payload := wsrooms.NewSharedPayload(frame, nil)
	defer payload.Release()
	return rooms.BroadcastExcept(ctx, room, payload, exceptID), nil
}

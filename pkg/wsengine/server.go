// Package wsengine runs websocket connections on a cooperative scheduler.
//
// The Server upgrades incoming HTTP requests, then every connection is driven by a bounded loop
// (see Connection) multiplexed with the other connections over a fixed pool of scheduler workers.
// Application code plugs in through a ConnectionHandler whose callbacks run on a per connection
// actor, and fans messages out to groups of connections through rooms.
package wsengine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbdevw/gowsrt/pkg/scheduler"
	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"github.com/gbdevw/gowsrt/pkg/wshandshake"
	"github.com/gbdevw/gowsrt/pkg/wsrooms"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Structure for the websocket server
type Server struct {
	// Underlying http.Server
	httpServer *http.Server
	// Listener opened by Start
	listener net.Listener
	// Instrumented application callbacks
	handler ConnectionHandler
	// Rooms shared by the server connections
	rooms *wsrooms.Manager
	// Server options
	opts *ServerConfigurationOptions
	// Per connection settings derived from opts
	settings connectionSettings
	// Scheduler running the connection loops, created by Start
	scheduler *scheduler.Scheduler
	// Open connections
	connections map[string]*Connection
	connMu      sync.RWMutex
	// Unix timestamp (seconds) when the server has started
	startUnixTimestamp atomic.Int64
	// Total number of accepted connections since server has started
	acceptedCount atomic.Int64
	// Indicates that server has started
	started atomic.Bool
	// Root context
	rootCtx context.Context
	// Context bound to websocket server lifetime
	serverCtx context.Context
	// Cancel function used to stop server
	cancelServerCtx context.CancelFunc
	// Tracer used to instrument server code
	tracer trace.Tracer
	// Logger
	logger *zap.Logger
	// Reference to instruments used to record server metrics
	instruments *serverInstruments
	// Used to ensure server stop routine is performed once
	onceStop sync.Once
	// Internal mutex used to coordinate start/stop
	startMu sync.Mutex
}

// # Description
//
// Factory which creates a new, non-started websocket Server.
//
// # Inputs
//
//   - ctx: Parent context to use as root context. All subcontextes will derive from this context.
//   - httpServer: The underlying HTTP Server to use. The provided HTTP Server handler will be
//     overriden with this server handler. If nil is provided, a default HTTP server listening on
//     localhost:8080 will be used.
//   - handler: Application callbacks. Must not be nil.
//   - rooms: Rooms manager shared by the connections. If nil, a new manager is created.
//   - opts: Server options. If nil, default options are used.
//   - logger: Logger to use. If nil, a Nop logger is used.
//   - tracerProvider: Tracer provider to use. If nil, the global tracer provider will be used.
//   - meterProvider: Meter provider to use. If nil, the global meter provider will be used.
//
// # Returns
//
// A new, non-started Server or an error if the handler is nil, the options are invalid or the
// instruments could not be created.
func NewServer(
	ctx context.Context,
	httpServer *http.Server,
	handler ConnectionHandler,
	rooms *wsrooms.Manager,
	opts *ServerConfigurationOptions,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider) (*Server, error) {
	if opts == nil {
		opts = NewServerConfigurationOptions()
	}
	if err := ValidateServerConfigurationOptions(opts); err != nil {
		return nil, fmt.Errorf("invalid server options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	decorated, err := newHandlerInstrumentationDecorator(handler, tracerProvider)
	if err != nil {
		return nil, err
	}
	if httpServer == nil {
		httpServer = &http.Server{Addr: "localhost:8080", BaseContext: func(l net.Listener) context.Context { return ctx }}
	}
	if rooms == nil {
		rooms = wsrooms.NewManager(opts.MaxRoomSize, logger, tracerProvider)
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	srv := &Server{
		httpServer:      httpServer,
		handler:         decorated,
		rooms:           rooms,
		opts:            opts,
		settings:        settingsFromOptions(opts),
		connections:     map[string]*Connection{},
		rootCtx:         ctx,
		serverCtx:       srvCtx,
		cancelServerCtx: srvCancel,
		tracer:          tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
		logger:          logger,
	}
	srv.instruments, err = newServerInstruments(meterProvider.Meter(pkgName, metric.WithInstrumentationVersion(pkgVersion)), srv)
	if err != nil {
		srvCancel()
		return nil, err
	}
	// Override http.Server handler
	srv.httpServer.Handler = srv
	return srv, nil
}

// # Description
//
// Start the websocket server: listen on the configured address and accept incoming websocket
// connections.
//
// # Returns
//
// A ServerStartError if the server context is done, the server has already been started or
// the listener could not be opened.
func (srv *Server) Start() error {
	select {
	case <-srv.serverCtx.Done():
		return ServerStartError{Err: fmt.Errorf("server context is done. A new server with a non-terminated context must be created")}
	default:
	}
	_, span := srv.tracer.Start(srv.serverCtx, spanServerStart, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(attrAddr, srv.httpServer.Addr),
	))
	defer span.End()
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.started.Load() {
		return handlePotentialError(ServerStartError{Err: fmt.Errorf("server already started")}, span)
	}
	addr := srv.httpServer.Addr
	if addr == "" {
		addr = ":http"
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return handlePotentialError(ServerStartError{Err: err}, span)
	}
	srv.listener = listener
	srv.scheduler = scheduler.New(srv.opts.SchedulerWorkers, srv.logger.Named("scheduler"))
	srv.startUnixTimestamp.Store(time.Now().Unix())
	srv.started.Store(true)
	go func() {
		if err := srv.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("http server exited", zap.Error(err))
		}
	}()
	srv.logger.Info("websocket server started", zap.String("addr", listener.Addr().String()))
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// # Description
//
// Gracefully shutdown the websocket server: stop accepting connections, close every open
// connection with 1001 and stop the scheduler. The method exits either when the server has
// finished stopping or when the stop timeout has expired; connections still alive at that
// point are terminated.
//
// # Returns
//
// Nil in case of success, an error otherwise.
func (srv *Server) Stop() error {
	select {
	case <-srv.rootCtx.Done():
		return fmt.Errorf("application context is done. A new server with a non-terminated context must be created")
	default:
	}
	ctx, span := srv.tracer.Start(srv.rootCtx, spanServerStop, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if !srv.started.Load() {
		return handlePotentialError(fmt.Errorf("server not started"), span)
	}
	stopCtx, stopCancel := ctx, context.CancelFunc(func() {})
	if srv.opts.StopTimeoutMs > 0 {
		stopCtx, stopCancel = context.WithTimeout(ctx, msToDuration(srv.opts.StopTimeoutMs))
	}
	defer stopCancel()
	var err error
	srv.onceStop.Do(func() { err = srv.terminate(stopCtx) })
	return handlePotentialError(err, span)
}

// Shutdown sequence, designed to be run once.
func (srv *Server) terminate(ctx context.Context) error {
	srv.started.Store(false)
	errShutdown := srv.httpServer.Shutdown(ctx)
	srv.closeConnections(ctx, wsframe.CloseGoingAway, "server shutdown")
	errScheduler := srv.scheduler.Stop(ctx)
	srv.cancelServerCtx()
	srv.logger.Info("websocket server stopped")
	return errors.Join(errShutdown, errScheduler)
}

// # Description
//
// Close all client connections if server is started. Otherwise, it is a noop. Each connection
// runs a close handshake with the provided code and reason.
func (srv *Server) CloseConnections(code wsframe.CloseCode, reason string) {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if !srv.started.Load() {
		return
	}
	select {
	case <-srv.serverCtx.Done():
		return
	default:
		srv.closeConnections(srv.serverCtx, code, reason)
	}
}

func (srv *Server) closeConnections(ctx context.Context, code wsframe.CloseCode, reason string) {
	_, span := srv.tracer.Start(ctx, spanServerCloseConnections, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.Int(attrCloseCode, int(code)),
		attribute.String(attrCloseReason, reason),
	))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	for _, conn := range srv.snapshot() {
		if err := conn.Close(code, reason); err == nil {
			span.AddEvent(eventConnectionClosed, trace.WithAttributes(
				attribute.String(attrConnectionId, conn.ID()),
			))
		}
	}
}

// # Description
//
// Server handler which upgrades incoming websocket connections.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := srv.tracer.Start(srv.serverCtx, spanServerAccept, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(attrPath, r.URL.Path),
	))
	defer span.End()
	key, err := wshandshake.ValidateRequest(r)
	if err != nil {
		srv.logger.Debug("upgrade rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		wshandshake.Reject(err).Write(w)
		handlePotentialError(err, span)
		return
	}
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		err := fmt.Errorf("response writer does not support hijacking")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		handlePotentialError(err, span)
		return
	}
	netConn, rw, err := hijacker.Hijack()
	if err != nil {
		srv.logger.Warn("hijack failed", zap.Error(err))
		handlePotentialError(err, span)
		return
	}
	// Bytes the peer sent right after the request belong to the websocket stream
	var leftover []byte
	if n := rw.Reader.Buffered(); n > 0 {
		leftover, _ = rw.Reader.Peek(n)
	}
	// Drop deadlines set by the http server
	_ = netConn.SetDeadline(time.Time{})
	if _, err := wshandshake.Accept(key).WriteTo(netConn); err != nil {
		_ = netConn.Close()
		handlePotentialError(err, span)
		return
	}
	conn := newConnection(srv.serverCtx, connectionParams{
		transport:   netConn,
		path:        r.URL.Path,
		header:      r.Header.Clone(),
		remoteAddr:  netConn.RemoteAddr().String(),
		leftover:    leftover,
		settings:    srv.settings,
		handler:     srv.handler,
		rooms:       srv.rooms,
		logger:      srv.logger,
		tracer:      srv.tracer,
		instruments: srv.instruments,
		onTerminate: srv.unregister,
	})
	srv.register(conn)
	srv.acceptedCount.Add(1)
	conn.start()
	if err := srv.scheduler.Spawn(conn); err != nil {
		conn.Abort(err)
		handlePotentialError(err, span)
		return
	}
	srv.logger.Debug("connection accepted", zap.String("connection.id", conn.ID()), zap.String("path", conn.Path()))
	span.SetAttributes(attribute.String(attrConnectionId, conn.ID()))
	span.SetStatus(codes.Ok, codes.Ok.String())
}

func (srv *Server) register(conn *Connection) {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	srv.connections[conn.ID()] = conn
}

func (srv *Server) unregister(conn *Connection) {
	srv.connMu.Lock()
	defer srv.connMu.Unlock()
	delete(srv.connections, conn.ID())
}

func (srv *Server) snapshot() []*Connection {
	srv.connMu.RLock()
	defer srv.connMu.RUnlock()
	conns := make([]*Connection, 0, len(srv.connections))
	for _, conn := range srv.connections {
		conns = append(conns, conn)
	}
	return conns
}

// Addr returns the address the server listens on once started, the configured address otherwise.
func (srv *Server) Addr() string {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.httpServer.Addr
}

// ConnectionCount returns the number of open connections.
func (srv *Server) ConnectionCount() int {
	srv.connMu.RLock()
	defer srv.connMu.RUnlock()
	return len(srv.connections)
}

// Connection returns an open connection by ID.
func (srv *Server) Connection(id string) (*Connection, bool) {
	srv.connMu.RLock()
	defer srv.connMu.RUnlock()
	conn, ok := srv.connections[id]
	return conn, ok
}

// ConnectionIDs returns the sorted IDs of the open connections.
func (srv *Server) ConnectionIDs() []string {
	ids := []string{}
	for _, conn := range srv.snapshot() {
		ids = append(ids, conn.ID())
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns the rooms manager shared by the server connections.
func (srv *Server) Rooms() *wsrooms.Manager {
	return srv.rooms
}

// # Description
//
// Send a message to every member of a room. The frame is encoded once and shared by all the
// recipients.
//
// # Returns
//
// The delivery counters, or an error if the message cannot be encoded.
func (srv *Server) Broadcast(ctx context.Context, room string, msg Message) (wsrooms.BroadcastResult, error) {
	return broadcast(ctx, srv.rooms, room, msg, "")
}

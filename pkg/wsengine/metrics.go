package wsengine

import (
	"context"

	"github.com/gbdevw/gowsrt/pkg/wsframe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	metricPrefix            = "gowsrt_"
	metricConnectionsActive = metricPrefix + "connections_active"
	metricConnectionsTotal  = metricPrefix + "connections_total"
	metricStartUnix         = metricPrefix + "start_unix_timestamp_seconds_info"
	metricStarted           = metricPrefix + "started_info"
	metricMessagesReceived  = metricPrefix + "messages_received_total"
	metricProtocolErrors    = metricPrefix + "protocol_errors_total"
	metricRoomsActive       = metricPrefix + "rooms_active"
	metricAttrCloseCode     = "close.code"
	metricAttrMessageType   = "message.type"
)

// Internal structure used to retain references to instruments that record server metrics.
type serverInstruments struct {
	// Gauge that monitors the number of active connections
	activeConnectionsGauge metric.Int64ObservableGauge
	// Counter that monitors the total number of accepted connections during the server lifetime
	connectionsCounter metric.Int64ObservableCounter
	// Gauge that retains the server start time as a unix timestamp (seconds)
	startUnixGauge metric.Int64ObservableGauge
	// Gauge that monitors server Started state flag
	startedGauge metric.Int64ObservableGauge
	// Gauge that monitors the number of non-empty rooms
	roomsGauge metric.Int64ObservableGauge
	// Counter of complete messages received
	messagesCounter metric.Int64Counter
	// Counter of connections failed because of a protocol violation
	protocolErrorsCounter metric.Int64Counter
}

// # Description
//
// Create the server instruments. Observable instruments read the server state when collected.
//
// # Returns
//
// The instruments or the first error returned by the meter.
func newServerInstruments(meter metric.Meter, srv *Server) (*serverInstruments, error) {
	instruments := &serverInstruments{}
	var err error
	instruments.activeConnectionsGauge, err = meter.Int64ObservableGauge(metricConnectionsActive, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(int64(srv.ConnectionCount()))
		return nil
	}))
	if err != nil {
		return nil, err
	}
	instruments.connectionsCounter, err = meter.Int64ObservableCounter(metricConnectionsTotal, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(srv.acceptedCount.Load())
		return nil
	}))
	if err != nil {
		return nil, err
	}
	instruments.startUnixGauge, err = meter.Int64ObservableGauge(metricStartUnix, metric.WithUnit("s"), metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(srv.startUnixTimestamp.Load())
		return nil
	}))
	if err != nil {
		return nil, err
	}
	instruments.startedGauge, err = meter.Int64ObservableGauge(metricStarted, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		if srv.started.Load() {
			io.Observe(1)
		} else {
			io.Observe(0)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	instruments.roomsGauge, err = meter.Int64ObservableGauge(metricRoomsActive, metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(int64(srv.rooms.RoomCount()))
		return nil
	}))
	if err != nil {
		return nil, err
	}
	instruments.messagesCounter, err = meter.Int64Counter(metricMessagesReceived, metric.WithDescription("Complete websocket messages received"))
	if err != nil {
		return nil, err
	}
	instruments.protocolErrorsCounter, err = meter.Int64Counter(metricProtocolErrors, metric.WithDescription("Connections failed because of a protocol violation"))
	if err != nil {
		return nil, err
	}
	return instruments, nil
}

func (instruments *serverInstruments) recordMessage(ctx context.Context, msgType MessageType) {
	if instruments == nil {
		return
	}
	instruments.messagesCounter.Add(ctx, 1, metric.WithAttributes(attribute.String(metricAttrMessageType, msgType.String())))
}

func (instruments *serverInstruments) recordProtocolError(ctx context.Context, code wsframe.CloseCode) {
	if instruments == nil {
		return
	}
	instruments.protocolErrorsCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int(metricAttrCloseCode, int(code))))
}

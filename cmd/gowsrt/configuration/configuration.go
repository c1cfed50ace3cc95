package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gbdevw/gowsrt/pkg/wsengine"
)

// Application configuration loaded from GOWSRT_* environment variables.
type Configuration struct {
	// Address the server listens on. Defaults to 0.0.0.0:8080
	Addr string
	// Indicates whether the development logger must be used
	LogDevelopment string
	// Indicates whether tracing is enabled or not
	TracingEnabled string
	// Endpoint of the OTLP/HTTP tracing backend
	TracingEndpoint string
	// Delay between two heartbeat publications (milliseconds). Defaults to 5000
	HeartbeatIntervalMs string
	// Server options overrides. Empty values keep the defaults
	MaxMessageSizeBytes string
	PingIntervalMs      string
	PongTimeoutMs       string
	CloseGracePeriodMs  string
	MaxRoomSize         string
	OutboxCapacity      string
	SchedulerWorkers    string
	StopTimeoutMs       string
}

func LoadConfiguration() Configuration {
	return Configuration{
		Addr:                os.Getenv("GOWSRT_ADDR"),
		LogDevelopment:      os.Getenv("GOWSRT_LOG_DEVELOPMENT"),
		TracingEnabled:      os.Getenv("GOWSRT_TRACING_ENABLED"),
		TracingEndpoint:     os.Getenv("GOWSRT_TRACING_OTLP_ENDPOINT"),
		HeartbeatIntervalMs: os.Getenv("GOWSRT_HEARTBEAT_INTERVAL_MS"),
		MaxMessageSizeBytes: os.Getenv("GOWSRT_MAX_MESSAGE_SIZE_BYTES"),
		PingIntervalMs:      os.Getenv("GOWSRT_PING_INTERVAL_MS"),
		PongTimeoutMs:       os.Getenv("GOWSRT_PONG_TIMEOUT_MS"),
		CloseGracePeriodMs:  os.Getenv("GOWSRT_CLOSE_GRACE_PERIOD_MS"),
		MaxRoomSize:         os.Getenv("GOWSRT_MAX_ROOM_SIZE"),
		OutboxCapacity:      os.Getenv("GOWSRT_OUTBOX_CAPACITY"),
		SchedulerWorkers:    os.Getenv("GOWSRT_SCHEDULER_WORKERS"),
		StopTimeoutMs:       os.Getenv("GOWSRT_STOP_TIMEOUT_MS"),
	}
}

// IsEnabled interprets a boolean flag: "true" (any case) or "1".
func IsEnabled(flag string) bool {
	return strings.ToLower(flag) == "true" || flag == "1"
}

// ListenAddr returns the address the server listens on.
func (config Configuration) ListenAddr() string {
	if config.Addr == "" {
		return "0.0.0.0:8080"
	}
	return config.Addr
}

// HeartbeatInterval returns the heartbeat interval in milliseconds.
func (config Configuration) HeartbeatInterval() (int64, error) {
	if config.HeartbeatIntervalMs == "" {
		return 5000, nil
	}
	return parse("GOWSRT_HEARTBEAT_INTERVAL_MS", config.HeartbeatIntervalMs)
}

// # Description
//
// Map the configuration onto server options. Options which are not set keep their default value.
//
// # Returns
//
// Validated server options or an error if a value cannot be parsed or is not valid.
func (config Configuration) ServerOptions() (*wsengine.ServerConfigurationOptions, error) {
	opts := wsengine.NewServerConfigurationOptions()
	overrides := []struct {
		name  string
		value string
		apply func(v int64)
	}{
		{"GOWSRT_MAX_MESSAGE_SIZE_BYTES", config.MaxMessageSizeBytes, func(v int64) { opts.WithMaxMessageSizeBytes(v) }},
		{"GOWSRT_PING_INTERVAL_MS", config.PingIntervalMs, func(v int64) { opts.WithPingIntervalMs(v) }},
		{"GOWSRT_PONG_TIMEOUT_MS", config.PongTimeoutMs, func(v int64) { opts.WithPongTimeoutMs(v) }},
		{"GOWSRT_CLOSE_GRACE_PERIOD_MS", config.CloseGracePeriodMs, func(v int64) { opts.WithCloseGracePeriodMs(v) }},
		{"GOWSRT_MAX_ROOM_SIZE", config.MaxRoomSize, func(v int64) { opts.WithMaxRoomSize(int(v)) }},
		{"GOWSRT_OUTBOX_CAPACITY", config.OutboxCapacity, func(v int64) { opts.WithOutboxCapacity(int(v)) }},
		{"GOWSRT_SCHEDULER_WORKERS", config.SchedulerWorkers, func(v int64) { opts.WithSchedulerWorkers(int(v)) }},
		{"GOWSRT_STOP_TIMEOUT_MS", config.StopTimeoutMs, func(v int64) { opts.WithStopTimeoutMs(v) }},
	}
	for _, override := range overrides {
		if override.value == "" {
			continue
		}
		v, err := parse(override.name, override.value)
		if err != nil {
			return nil, err
		}
		override.apply(v)
	}
	if err := wsengine.ValidateServerConfigurationOptions(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func parse(name string, value string) (int64, error) {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return v, nil
}

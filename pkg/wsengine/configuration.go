package wsengine

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Defines configuration options for the websocket server and its connections.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods.
type ServerConfigurationOptions struct {
	// Maximum size of a reassembled message (bytes). Bigger messages close the connection
	// with 1009.
	//
	// Defaults to 16 MiB. Must be at least 1.
	MaxMessageSizeBytes int64 `validate:"gte=1"`
	// Maximum payload size of a single frame (bytes). Bigger frames close the connection with 1009.
	//
	// Defaults to 64 MiB. Must be at least 1.
	MaxFramePayloadBytes int64 `validate:"gte=1"`
	// Delay between two heartbeat pings (milliseconds).
	//
	// Defaults to 30000. Must be at least 1.
	PingIntervalMs int64 `validate:"gte=1"`
	// Extra delay granted to the peer to answer a ping (milliseconds). A connection which did not
	// answer for PingIntervalMs + PongTimeoutMs is closed.
	//
	// Defaults to 10000. Must be at least 1.
	PongTimeoutMs int64 `validate:"gte=1"`
	// Read quantum of the connection loop (milliseconds): the longest time a connection can
	// hold a scheduler worker while waiting for data.
	//
	// Defaults to 100. Must be at least 1.
	ReadTimeoutMs int64 `validate:"gte=1"`
	// Maximum delay to write a frame (milliseconds).
	//
	// Defaults to 5000 - 0 disables the timeout.
	WriteTimeoutMs int64 `validate:"gte=0"`
	// Maximum delay to wait for the peer close frame after the server sent its own (milliseconds).
	//
	// Defaults to 2000. Must be at least 0.
	CloseGracePeriodMs int64 `validate:"gte=0"`
	// Maximum number of members per room.
	//
	// Defaults to 0 (unlimited). Must be at least 0.
	MaxRoomSize int `validate:"gte=0"`
	// Maximum number of outbound messages pending on a connection.
	//
	// Defaults to 1024. Must be at least 1.
	OutboxCapacity int `validate:"gte=1"`
	// Number of scheduler workers multiplexing the connection loops.
	//
	// Defaults to 64. Must be at least 1.
	SchedulerWorkers int `validate:"gte=1"`
	// Delay to complete Stop() (milliseconds): close all connections and stop the workers.
	//
	// Defaults to 30000 - 0 disables the timeout.
	StopTimeoutMs int64 `validate:"gte=0"`
}

// # Description
//
// Set opts.MaxMessageSizeBytes and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithMaxMessageSizeBytes(value int64) *ServerConfigurationOptions {
	opts.MaxMessageSizeBytes = value
	return opts
}

// # Description
//
// Set opts.MaxFramePayloadBytes and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithMaxFramePayloadBytes(value int64) *ServerConfigurationOptions {
	opts.MaxFramePayloadBytes = value
	return opts
}

// # Description
//
// Set opts.PingIntervalMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithPingIntervalMs(value int64) *ServerConfigurationOptions {
	opts.PingIntervalMs = value
	return opts
}

// # Description
//
// Set opts.PongTimeoutMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithPongTimeoutMs(value int64) *ServerConfigurationOptions {
	opts.PongTimeoutMs = value
	return opts
}

// # Description
//
// Set opts.ReadTimeoutMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithReadTimeoutMs(value int64) *ServerConfigurationOptions {
	opts.ReadTimeoutMs = value
	return opts
}

// # Description
//
// Set opts.WriteTimeoutMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithWriteTimeoutMs(value int64) *ServerConfigurationOptions {
	opts.WriteTimeoutMs = value
	return opts
}

// # Description
//
// Set opts.CloseGracePeriodMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithCloseGracePeriodMs(value int64) *ServerConfigurationOptions {
	opts.CloseGracePeriodMs = value
	return opts
}

// # Description
//
// Set opts.MaxRoomSize and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithMaxRoomSize(value int) *ServerConfigurationOptions {
	opts.MaxRoomSize = value
	return opts
}

// # Description
//
// Set opts.OutboxCapacity and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithOutboxCapacity(value int) *ServerConfigurationOptions {
	opts.OutboxCapacity = value
	return opts
}

// # Description
//
// Set opts.SchedulerWorkers and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithSchedulerWorkers(value int) *ServerConfigurationOptions {
	opts.SchedulerWorkers = value
	return opts
}

// # Description
//
// Set opts.StopTimeoutMs and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *ServerConfigurationOptions) WithStopTimeoutMs(value int64) *ServerConfigurationOptions {
	opts.StopTimeoutMs = value
	return opts
}

// # Description
//
// Factory which creates a new ServerConfigurationOptions object with nice defaults. Settings
// can then be modified by the user by using With*** methods.
//
// # Default settings
//
//   - MaxMessageSizeBytes = 16 MiB
//   - MaxFramePayloadBytes = 64 MiB
//   - PingIntervalMs = 30000 (30 seconds)
//   - PongTimeoutMs = 10000 (10 seconds)
//   - ReadTimeoutMs = 100
//   - WriteTimeoutMs = 5000
//   - CloseGracePeriodMs = 2000
//   - MaxRoomSize = 0 (unlimited)
//   - OutboxCapacity = 1024
//   - SchedulerWorkers = 64
//   - StopTimeoutMs = 30000
func NewServerConfigurationOptions() *ServerConfigurationOptions {
	return &ServerConfigurationOptions{
		MaxMessageSizeBytes:  16 << 20,
		MaxFramePayloadBytes: 64 << 20,
		PingIntervalMs:       30000,
		PongTimeoutMs:        10000,
		ReadTimeoutMs:        100,
		WriteTimeoutMs:       5000,
		CloseGracePeriodMs:   2000,
		MaxRoomSize:          0,
		OutboxCapacity:       1024,
		SchedulerWorkers:     64,
		StopTimeoutMs:        30000,
	}
}

// # Description
//
// Helper function which validates ServerConfigurationOptions against the constraints declared
// in the struct tags.
//
// # Returns
//
// InvalidValidationError for bad values passed in and nil or ValidationErrors as error otherwise.
// You will need to assert the error if it's not nil eg. err.(validator.ValidationErrors) to access
// the array of errors.
func ValidateServerConfigurationOptions(opts *ServerConfigurationOptions) error {
	return validator.New().Struct(opts)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

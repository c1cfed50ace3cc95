package configuration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Test defaults are kept when nothing is set.
func TestServerOptionsDefaults(t *testing.T) {
	t.Setenv("GOWSRT_ADDR", "")
	t.Setenv("GOWSRT_SCHEDULER_WORKERS", "")
	config := LoadConfiguration()
	opts, err := config.ServerOptions()
	require.NoError(t, err)
	require.Equal(t, int64(30000), opts.PingIntervalMs)
	require.Equal(t, 64, opts.SchedulerWorkers)
	require.Equal(t, "0.0.0.0:8080", config.ListenAddr())
	interval, err := config.HeartbeatInterval()
	require.NoError(t, err)
	require.Equal(t, int64(5000), interval)
}

// Test environment overrides are applied.
func TestServerOptionsOverrides(t *testing.T) {
	t.Setenv("GOWSRT_ADDR", "127.0.0.1:9000")
	t.Setenv("GOWSRT_SCHEDULER_WORKERS", "8")
	t.Setenv("GOWSRT_MAX_ROOM_SIZE", "100")
	t.Setenv("GOWSRT_PONG_TIMEOUT_MS", "2500")
	config := LoadConfiguration()
	opts, err := config.ServerOptions()
	require.NoError(t, err)
	require.Equal(t, 8, opts.SchedulerWorkers)
	require.Equal(t, 100, opts.MaxRoomSize)
	require.Equal(t, int64(2500), opts.PongTimeoutMs)
	require.Equal(t, "127.0.0.1:9000", config.ListenAddr())
}

// Test invalid values are refused.
func TestServerOptionsErrors(t *testing.T) {
	_, err := Configuration{SchedulerWorkers: "many"}.ServerOptions()
	require.Error(t, err)
	_, err = Configuration{SchedulerWorkers: "0"}.ServerOptions()
	require.Error(t, err)
	_, err = Configuration{HeartbeatIntervalMs: "soon"}.HeartbeatInterval()
	require.Error(t, err)
}

// Test boolean flags.
func TestIsEnabled(t *testing.T) {
	require.True(t, IsEnabled("TRUE"))
	require.True(t, IsEnabled("1"))
	require.False(t, IsEnabled(""))
	require.False(t, IsEnabled("no"))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8060/channel", cfg.GatewayURL)
	assert.Equal(t, "http://localhost:5030", cfg.EngineURL)
	assert.Equal(t, ":8785", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.LongPollTimeout)
	assert.Equal(t, 2*time.Second, cfg.ReconnectSettle)
	assert.Equal(t, time.Minute, cfg.PlayerTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GATEWAY_URL", "ws://gw.internal:9000/channel")
	t.Setenv("REQUEST_TIMEOUT", "250ms")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "ws://gw.internal:9000/channel", cfg.GatewayURL)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestBadDurationRejected(t *testing.T) {
	t.Setenv("PLAYER_TTL", "not-a-duration")

	_, err := New()
	assert.Error(t, err)
}

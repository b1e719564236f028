package udp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
)

func openLoopback(t *testing.T, deps component.Dependencies) *Source {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	s, err := New("telemetry", cfg, deps)
	require.NoError(t, err)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func send(t *testing.T, to net.Addr, payload string) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"bad bind", func(c *Config) { c.Bind = "example.com" }, true},
		{"buffer", func(c *Config) { c.BufferSize = 0 }, true},
		{"domain", func(c *Config) { c.Domain = "smell" }, true},
		{"visual domain", func(c *Config) { c.Domain = "Visual" }, false},
		{"deadline", func(c *Config) { c.ReadDeadline = "0s" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSource_ReceivesDatagram(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := openLoopback(t, component.Dependencies{MetricsRegistry: registry})
	assert.Equal(t, component.DomainData, s.Domain())

	send(t, s.Addr(), "hello")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.Acquire(ctx)
	require.NoError(t, err)

	dg, ok := v.(*message.Datagram)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), dg.Data)
	assert.Contains(t, dg.Origin, "127.0.0.1")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.packetsReceived))
	assert.Equal(t, 5.0, testutil.ToFloat64(s.metrics.bytesReceived))
}

func TestSource_AcquireWaitsForCancel(t *testing.T) {
	s := openLoopback(t, component.Dependencies{})

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSource_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	s, err := New("telemetry", cfg, component.Dependencies{})
	require.NoError(t, err)

	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	assert.Nil(t, s.Addr())

	require.NoError(t, s.Open(context.Background()))
	assert.ErrorIs(t, s.Open(context.Background()), errors.ErrAlreadyStarted)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestNewSource_Params(t *testing.T) {
	src, err := NewSource("telemetry", json.RawMessage(`{"port":0,"domain":"audio"}`), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, component.DomainAudio, src.Domain())

	_, err = NewSource("telemetry", json.RawMessage(`{"port":-5}`), component.Dependencies{})
	assert.Error(t, err)
}

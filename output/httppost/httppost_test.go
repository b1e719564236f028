package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/message"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		timeout string
		wantErr bool
	}{
		{"valid", "http://example.com/hook", "5s", false},
		{"https", "https://example.com", "1s", false},
		{"missing", "", "5s", true},
		{"scheme", "ftp://example.com", "5s", true},
		{"no host", "http://", "5s", true},
		{"timeout", "http://example.com", "never", true},
		{"zero timeout", "http://example.com", "0s", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.URL = tt.url
			cfg.Timeout = tt.timeout
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAction_Posts(t *testing.T) {
	var got message.Notification
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	params := `{"url":"` + server.URL + `","headers":{"Authorization":"Bearer t"}}`
	act, err := NewAction("webhook", json.RawMessage(params), component.Dependencies{})
	require.NoError(t, err)

	require.NoError(t, act.Notify(context.Background(), []any{map[string]any{"pipeline": "entry"}}))
	assert.Equal(t, "Bearer t", auth)
	assert.Equal(t, 1, got.Count)
	assert.Equal(t, "webhook", got.Action)

	sent, failed := act.(*Action).Stats()
	assert.Equal(t, int64(1), sent)
	assert.Zero(t, failed)
}

func TestAction_NoRetryOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	a, err := New("webhook", cfg, nil)
	require.NoError(t, err)

	err = a.Notify(context.Background(), []any{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Equal(t, int32(1), calls.Load())

	_, failed := a.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestAction_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	a, err := New("webhook", cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Notify(ctx, []any{"x"}), context.Canceled)
}

func TestAction_HTTPSWithTLSConfig(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// The test server's certificate is self-signed, so the default client rejects it.
	strict, err := NewAction("strict", json.RawMessage(`{"url":"`+server.URL+`"}`), component.Dependencies{})
	require.NoError(t, err)
	assert.Error(t, strict.Notify(context.Background(), []any{"x"}))

	params := `{"url":"` + server.URL + `","tls":{"insecure_skip_verify":true}}`
	act, err := NewAction("lab", json.RawMessage(params), component.Dependencies{})
	require.NoError(t, err)
	require.NoError(t, act.Notify(context.Background(), []any{"x"}))
	assert.Equal(t, int32(1), calls.Load())
}

func TestConfig_ValidateTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "https://example.com"
	cfg.TLS.CertFile = "client.pem"
	assert.Error(t, cfg.Validate())
}

// Package httppost provides an action that POSTs each dispatched batch to a
// webhook as JSON.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/pkg/tlsutil"
)

// Config holds webhook parameters.
type Config struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers"`
	Timeout     string            `json:"timeout"`
	ContentType string            `json:"content_type"`

	// TLS applies to https URLs only.
	TLS tlsutil.ClientConfig `json:"tls"`

	timeout time.Duration
}

// DefaultConfig returns a config with a 10s timeout.
func DefaultConfig() Config {
	return Config{
		Headers:     make(map[string]string),
		Timeout:     "10s",
		ContentType: "application/json",
	}
}

// Validate checks the URL and timeout.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid tls: %w", err)
	}
	c.timeout = d
	return nil
}

// Action sends one request per batch. A non-2xx response is an error; the
// controller does not retry.
type Action struct {
	name       string
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// New creates a webhook action.
func New(name string, config Config, logger *slog.Logger) (*Action, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "HTTPPostAction", "New", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: config.timeout}
	if !config.TLS.IsZero() {
		tlsConfig, err := tlsutil.LoadClientConfig(config.TLS, "")
		if err != nil {
			return nil, errors.Wrap(err, "HTTPPostAction", "New", "load tls config")
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		httpClient.Transport = transport
	}
	return &Action{
		name:       name,
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "HTTPPostAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps.GetLoggerWithComponent(component.KindAction, name))
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Notify posts the batch.
func (a *Action) Notify(ctx context.Context, batch []any) error {
	data, err := message.NewNotification(a.name, batch).Marshal()
	if err != nil {
		a.failed.Add(1)
		return errors.WrapInvalid(err, "HTTPPostAction", "Notify", "encode batch")
	}

	if err := a.send(ctx, data); err != nil {
		a.failed.Add(1)
		return errors.WrapTransient(err, "HTTPPostAction", "Notify", "post batch")
	}
	a.sent.Add(1)
	a.logger.Debug("Webhook delivered", "url", a.config.URL, "count", len(batch))
	return nil
}

func (a *Action) send(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", a.config.ContentType)
	for key, value := range a.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain the body so the connection is reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// Stats returns delivered and failed batch counts.
func (a *Action) Stats() (sent, failed int64) {
	return a.sent.Load(), a.failed.Load()
}

// Package nats provides a source fed by a broker subject. Messages arriving
// between two Acquire calls collapse to the newest one.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Payload formats.
const (
	FormatJSON = "json"
	FormatRaw  = "raw"
)

// Config holds NATS source parameters.
type Config struct {
	Subject string `json:"subject"`
	// Format json decodes each message into a generic value; raw hands the
	// bytes over as a message.Datagram.
	Format string `json:"format"`
	Domain string `json:"domain"`
	// Timeout bounds how long Acquire waits for a message.
	Timeout string `json:"timeout"`

	domain  component.Domain
	timeout time.Duration
}

// DefaultConfig returns JSON decoding in the data domain with a 1s wait.
func DefaultConfig() Config {
	return Config{
		Format:  FormatJSON,
		Domain:  string(component.DomainData),
		Timeout: "1s",
	}
}

// Validate checks the parameters.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	switch c.Format {
	case FormatJSON, FormatRaw:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	d, err := component.ParseDomain(c.Domain)
	if err != nil {
		return err
	}
	c.domain = d
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	c.timeout = timeout
	return nil
}

// Source keeps the newest message received on its subject.
type Source struct {
	name      string
	config    Config
	messenger component.Messenger
	logger    *slog.Logger

	mu     sync.Mutex
	sub    component.Subscription
	latest []byte
	ready  chan struct{}

	received   atomic.Int64
	overwrites atomic.Int64
}

// New creates a source; the subscription is made in Open.
func New(name string, config Config, deps component.Dependencies) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "NATSSource", "New", "config validation")
	}
	if deps.Messenger == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "NATSSource", "New", "messenger dependency")
	}
	return &Source{
		name:      name,
		config:    config,
		messenger: deps.Messenger,
		logger:    deps.GetLoggerWithComponent(component.KindSource, name),
		ready:     make(chan struct{}, 1),
	}, nil
}

// NewSource is the registry factory.
func NewSource(name string, params json.RawMessage, deps component.Dependencies) (component.Source, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "NATSSource", "NewSource", "decode params")
	}
	return New(name, cfg, deps)
}

// Name implements component.Source.
func (s *Source) Name() string { return s.name }

// Domain implements component.Source.
func (s *Source) Domain() component.Domain { return s.config.domain }

// Open subscribes to the subject.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "NATSSource", "Open", "subscribe")
	}
	sub, err := s.messenger.Subscribe(ctx, s.config.Subject, s.handle)
	if err != nil {
		return errors.WrapTransient(err, "NATSSource", "Open", fmt.Sprintf("subscribe to %s", s.config.Subject))
	}
	s.sub = sub
	s.logger.Info("NATS source subscribed", "subject", s.config.Subject)
	return nil
}

func (s *Source) handle(_ context.Context, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	if s.latest != nil {
		s.overwrites.Add(1)
	}
	s.latest = buf
	s.mu.Unlock()
	s.received.Add(1)

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Acquire returns the newest message since the previous call. It waits up to
// the configured timeout and reports ErrNoSample when nothing arrived.
func (s *Source) Acquire(ctx context.Context) (any, error) {
	timer := time.NewTimer(s.config.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.WrapTransient(errors.ErrNoSample, "NATSSource", "Acquire",
			fmt.Sprintf("wait on %s", s.config.Subject))
	case <-s.ready:
	}

	s.mu.Lock()
	data := s.latest
	s.latest = nil
	s.mu.Unlock()

	if data == nil {
		return nil, errors.WrapTransient(errors.ErrNoSample, "NATSSource", "Acquire", "take message")
	}
	if s.config.Format == FormatRaw {
		return &message.Datagram{Origin: s.config.Subject, Data: data}, nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"NATSSource", "Acquire", "decode message")
	}
	return v, nil
}

// Received returns the number of messages delivered by the broker.
func (s *Source) Received() int64 { return s.received.Load() }

// Overwrites returns how many messages were replaced before being acquired.
func (s *Source) Overwrites() int64 { return s.overwrites.Load() }

// Close drops the subscription.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return errors.Wrap(err, "NATSSource", "Close", "unsubscribe")
}

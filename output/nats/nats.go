// Package nats provides an action that publishes each dispatched batch to a
// broker subject.
//
// With a stream configured the action creates (or updates) a JetStream
// stream bound to its subject on Open and publishes through it, waiting for
// the server acknowledgement. Without one it uses core publish, which is
// fire-and-forget.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Config holds the publish target.
type Config struct {
	Subject string `json:"subject"`
	// Stream names the JetStream stream that persists alerts. Optional.
	Stream string `json:"stream,omitempty"`
}

// Validate rejects empty subjects and wildcards.
func (c *Config) Validate() error {
	if c.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if strings.ContainsAny(c.Subject, "*> \t") {
		return fmt.Errorf("subject %q must not contain wildcards or whitespace", c.Subject)
	}
	if strings.ContainsAny(c.Stream, ".*> \t") {
		return fmt.Errorf("stream %q must not contain '.', wildcards or whitespace", c.Stream)
	}
	return nil
}

// Action publishes notifications.
type Action struct {
	name      string
	config    Config
	messenger component.Messenger
	streams   component.StreamPublisher
}

// New creates a publishing action.
func New(name string, config Config, messenger component.Messenger) (*Action, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "NATSAction", "New", "config validation")
	}
	if messenger == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "NATSAction", "New", "messenger dependency")
	}

	a := &Action{name: name, config: config, messenger: messenger}
	if config.Stream != "" {
		streams, ok := messenger.(component.StreamPublisher)
		if !ok {
			return nil, errors.WrapInvalid(
				fmt.Errorf("messenger does not support streams"),
				"NATSAction", "New", "stream "+config.Stream)
		}
		a.streams = streams
	}
	return a, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	var cfg Config
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "NATSAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps.Messenger)
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Open creates the stream when one is configured.
func (a *Action) Open(ctx context.Context) error {
	if a.streams == nil {
		return nil
	}
	if err := a.streams.EnsureStream(ctx, a.config.Stream, []string{a.config.Subject}); err != nil {
		return errors.Wrap(err, "NATSAction", "Open", "ensure stream "+a.config.Stream)
	}
	return nil
}

// Notify publishes the batch.
func (a *Action) Notify(ctx context.Context, batch []any) error {
	data, err := message.NewNotification(a.name, batch).Marshal()
	if err != nil {
		return errors.WrapInvalid(err, "NATSAction", "Notify", "encode batch")
	}

	if a.streams != nil {
		err = a.streams.PublishToStream(ctx, a.config.Subject, data)
	} else {
		err = a.messenger.Publish(ctx, a.config.Subject, data)
	}
	if err != nil {
		return errors.WrapTransient(err, "NATSAction", "Notify", fmt.Sprintf("publish to %s", a.config.Subject))
	}
	return nil
}

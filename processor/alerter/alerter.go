// Package alerter provides the terminal stage that turns a completed chain
// into an alert payload.
package alerter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Config holds the alert text and, optionally, a fixed domain.
type Config struct {
	Message string `json:"message"`
	// Domain pins the stage to one domain. Left empty, the stage takes the
	// domain of its pipeline's source.
	Domain string `json:"domain"`
	// Details are copied into every alert.
	Details map[string]any `json:"details"`

	domain component.Domain
}

// Validate checks the domain if one is given.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return nil
	}
	d, err := component.ParseDomain(c.Domain)
	if err != nil {
		return err
	}
	c.domain = d
	return nil
}

// Stage always continues and attaches a message.Alert.
type Stage struct {
	name   string
	config Config

	mu     sync.RWMutex
	domain component.Domain
}

// New creates an alerter.
func New(name string, config Config) (*Stage, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Alerter", "New", "config validation")
	}
	if config.Message == "" {
		config.Message = fmt.Sprintf("%s triggered", name)
	}
	return &Stage{name: name, config: config, domain: config.domain}, nil
}

// NewStage is the registry factory.
func NewStage(name string, params json.RawMessage, _ component.Dependencies) (component.Stage, error) {
	var cfg Config
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Alerter", "NewStage", "decode params")
	}
	return New(name, cfg)
}

// Name implements component.Stage.
func (s *Stage) Name() string { return s.name }

// Domain implements component.Stage.
func (s *Stage) Domain() component.Domain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.domain
}

// BindDomain implements component.DomainBinder. A configured domain wins.
func (s *Stage) BindDomain(d component.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.domain == "" {
		s.domain = d
	}
}

// Process passes the payload through and raises an alert describing the
// cycle it ran in.
func (s *Stage) Process(ctx context.Context, payload any) (component.Result, error) {
	alert := message.Alert{
		Stage:   s.name,
		Message: s.config.Message,
		Time:    time.Now(),
	}
	if cycle, ok := component.CycleFromContext(ctx); ok {
		alert.Pipeline = cycle.Pipeline
		alert.Source = cycle.Source
	}
	if len(s.config.Details) > 0 {
		alert.Details = make(map[string]any, len(s.config.Details))
		for k, v := range s.config.Details {
			alert.Details[k] = v
		}
	}
	return component.Raise(payload, alert), nil
}

// Package jsonmatch provides a data stage that passes JSON documents matching
// a set of field conditions and stops the chain for everything else.
//
//	{
//	  "type": "jsonmatch",
//	  "parameters": {
//	    "logic": "and",
//	    "conditions": [
//	      {"field": "door.state", "operator": "eq", "value": "open"},
//	      {"field": "temperature", "operator": "gt", "value": 40}
//	    ]
//	  }
//	}
//
// Payloads may be decoded values (maps, slices, scalars), raw JSON bytes,
// strings holding JSON, or datagrams whose data is JSON. The decoded
// document is what the next stage receives.
package jsonmatch

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/pkg/cache"
)

const regexCacheSize = 100

// Config holds the stage parameters.
type Config struct {
	Conditions []Condition `json:"conditions"`
	// Logic is "and" or "or"; empty means "or".
	Logic string `json:"logic"`
	// Attach emits the matched document as the alert payload.
	Attach bool `json:"attach"`
}

// Validate checks operators, logic and regex patterns up front.
func (c *Config) Validate() error {
	switch c.Logic {
	case "", LogicAnd, LogicOr:
	default:
		return fmt.Errorf("unsupported logic %q", c.Logic)
	}
	probe := NewEvaluator(nil)
	for i, cond := range c.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if !probe.Supports(cond.Operator) {
			return fmt.Errorf("condition %d: unsupported operator %q", i, cond.Operator)
		}
		if cond.Operator == OpRegexMatch {
			pattern, ok := cond.Value.(string)
			if !ok {
				return fmt.Errorf("condition %d: regex pattern must be a string", i)
			}
			if _, err := probe.compile(pattern); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
		}
	}
	return nil
}

// Stage filters JSON documents.
type Stage struct {
	name      string
	config    Config
	evaluator *Evaluator

	matched  atomic.Int64
	rejected atomic.Int64
}

// New creates a stage. The regex cache is per stage instance.
func New(name string, config Config, deps component.Dependencies) (*Stage, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "JSONMatch", "New", "config validation")
	}
	regexes, err := cache.NewLRU[*regexp.Regexp](regexCacheSize,
		cache.WithMetrics[*regexp.Regexp](deps.MetricsRegistry, "jsonmatch_"+name))
	if err != nil {
		// Duplicate stage names collide on collector names; run without metrics.
		regexes, err = cache.NewLRU[*regexp.Regexp](regexCacheSize)
		if err != nil {
			return nil, err
		}
	}
	return &Stage{name: name, config: config, evaluator: NewEvaluator(regexes)}, nil
}

// NewStage is the registry factory.
func NewStage(name string, params json.RawMessage, deps component.Dependencies) (component.Stage, error) {
	var cfg Config
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "JSONMatch", "NewStage", "decode params")
	}
	return New(name, cfg, deps)
}

// Name implements component.Stage.
func (s *Stage) Name() string { return s.name }

// Domain implements component.Stage.
func (s *Stage) Domain() component.Domain { return component.DomainData }

// Process decodes the payload and evaluates the conditions.
func (s *Stage) Process(_ context.Context, payload any) (component.Result, error) {
	doc, err := decode(payload)
	if err != nil {
		return component.Result{}, errors.WrapInvalid(err, "JSONMatch", "Process", "decode payload")
	}

	ok, err := s.evaluator.Evaluate(doc, s.config.Conditions, s.config.Logic)
	if err != nil {
		return component.Result{}, errors.WrapInvalid(err, "JSONMatch", "Process", "evaluate conditions")
	}
	if !ok {
		s.rejected.Add(1)
		return component.Halt(doc), nil
	}

	s.matched.Add(1)
	if s.config.Attach {
		return component.Raise(doc, doc), nil
	}
	return component.Pass(doc), nil
}

// Counts returns how many documents matched and were rejected.
func (s *Stage) Counts() (matched, rejected int64) {
	return s.matched.Load(), s.rejected.Load()
}

func decode(payload any) (any, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil payload", errors.ErrPayloadType)
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	case *message.Datagram:
		raw = p.Data
	case message.Datagram:
		raw = p.Data
	default:
		return payload, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidData, err)
	}
	return doc, nil
}

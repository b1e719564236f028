package component

import (
	"context"
	"fmt"
	"strings"
)

// Domain tags the kind of data a source produces and a stage accepts.
type Domain string

// Built-in domains.
const (
	DomainVisual Domain = "visual"
	DomainAudio  Domain = "audio"
	DomainData   Domain = "data"
)

// ParseDomain accepts a domain name in any case.
func ParseDomain(s string) (Domain, error) {
	switch d := Domain(strings.ToLower(strings.TrimSpace(s))); d {
	case DomainVisual, DomainAudio, DomainData:
		return d, nil
	default:
		return "", fmt.Errorf("unknown domain %q", s)
	}
}

// Source produces samples. A worker calls Acquire in a loop and publishes
// each result to the source's mailbox; Acquire may block until data is ready
// and should return promptly once ctx is done.
type Source interface {
	Name() string
	Domain() Domain
	Acquire(ctx context.Context) (any, error)
}

// Result is the three-part output of a stage.
type Result struct {
	// Payload is handed to the next stage.
	Payload any
	// Continue false stops the chain. On the last stage it is the alert signal.
	Continue bool
	// Alert is the optional payload attached to the emitted event.
	Alert any
}

// Pass continues the chain with payload.
func Pass(payload any) Result {
	return Result{Payload: payload, Continue: true}
}

// Halt stops the chain.
func Halt(payload any) Result {
	return Result{Payload: payload}
}

// Raise continues the chain and attaches an alert payload.
func Raise(payload, alert any) Result {
	return Result{Payload: payload, Continue: true, Alert: alert}
}

// Stage is one step of a pipeline. Each pipeline owns its stage instances,
// so a stage may keep per-pipeline state (a previous frame, a warm model).
type Stage interface {
	Name() string
	Domain() Domain
	Process(ctx context.Context, payload any) (Result, error)
}

// Action receives the alert payloads of one positive decision. Delivery is
// best effort; the controller does not retry.
type Action interface {
	Name() string
	Notify(ctx context.Context, batch []any) error
}

// Opener is implemented by plugins that must acquire resources before the
// first call (sockets, subscriptions, listeners). The engine calls Open once
// at start.
type Opener interface {
	Open(ctx context.Context) error
}

// Closer is implemented by plugins holding resources. The engine calls Close
// once during shutdown.
type Closer interface {
	Close() error
}

// DomainBinder is implemented by stages that work in any domain. When such a
// stage is configured without an explicit domain, the engine binds it to the
// domain of its pipeline's source before validation.
type DomainBinder interface {
	BindDomain(d Domain)
}

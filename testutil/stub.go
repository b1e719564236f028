package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/watchpost/component"
)

// StubSource returns values from Next, pacing calls by Interval. A nil Next
// yields an incrementing counter.
type StubSource struct {
	SourceName   string
	SourceDomain component.Domain
	Interval     time.Duration
	Next         func(n int64) (any, error)

	calls atomic.Int64
}

// Name implements component.Source.
func (s *StubSource) Name() string { return s.SourceName }

// Domain implements component.Source.
func (s *StubSource) Domain() component.Domain { return s.SourceDomain }

// Acquire implements component.Source.
func (s *StubSource) Acquire(ctx context.Context) (any, error) {
	if s.Interval > 0 {
		timer := time.NewTimer(s.Interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	n := s.calls.Add(1)
	if s.Next == nil {
		return n, nil
	}
	return s.Next(n)
}

// Calls returns how many times Acquire produced a value or error.
func (s *StubSource) Calls() int64 { return s.calls.Load() }

// StubStage runs Fn for each payload. A nil Fn passes the payload through.
type StubStage struct {
	StageName   string
	StageDomain component.Domain
	Fn          func(ctx context.Context, payload any) (component.Result, error)

	calls atomic.Int64
}

// Name implements component.Stage.
func (s *StubStage) Name() string { return s.StageName }

// Domain implements component.Stage.
func (s *StubStage) Domain() component.Domain { return s.StageDomain }

// Process implements component.Stage.
func (s *StubStage) Process(ctx context.Context, payload any) (component.Result, error) {
	s.calls.Add(1)
	if s.Fn == nil {
		return component.Pass(payload), nil
	}
	return s.Fn(ctx, payload)
}

// Calls returns how many payloads the stage has seen.
func (s *StubStage) Calls() int64 { return s.calls.Load() }

// RecordingAction stores every batch it is notified with.
type RecordingAction struct {
	ActionName string
	Err        error

	mu      sync.Mutex
	batches [][]any
}

// Name implements component.Action.
func (a *RecordingAction) Name() string { return a.ActionName }

// Notify implements component.Action.
func (a *RecordingAction) Notify(_ context.Context, batch []any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, append([]any(nil), batch...))
	return a.Err
}

// Batches returns a copy of the recorded batches.
func (a *RecordingAction) Batches() [][]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([][]any, len(a.batches))
	copy(out, a.batches)
	return out
}

package pipeline

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/mailbox"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
)

type stubSource struct {
	name   string
	domain component.Domain
}

func (s *stubSource) Name() string             { return s.name }
func (s *stubSource) Domain() component.Domain { return s.domain }
func (s *stubSource) Acquire(context.Context) (any, error) {
	return nil, stderrors.New("not used")
}

// funcStage adapts a function to component.Stage and counts calls.
type funcStage struct {
	name   string
	domain component.Domain
	fn     func(ctx context.Context, payload any) (component.Result, error)
	calls  atomic.Int64
}

func (s *funcStage) Name() string             { return s.name }
func (s *funcStage) Domain() component.Domain { return s.domain }
func (s *funcStage) Process(ctx context.Context, payload any) (component.Result, error) {
	s.calls.Add(1)
	return s.fn(ctx, payload)
}

func passStage(name string) *funcStage {
	return &funcStage{name: name, domain: component.DomainData,
		fn: func(_ context.Context, p any) (component.Result, error) { return component.Pass(p), nil }}
}

func haltStage(name string) *funcStage {
	return &funcStage{name: name, domain: component.DomainData,
		fn: func(_ context.Context, p any) (component.Result, error) { return component.Halt(p), nil }}
}

func alertStage(name string) *funcStage {
	return &funcStage{name: name, domain: component.DomainData,
		fn: func(ctx context.Context, p any) (component.Result, error) {
			c, _ := component.CycleFromContext(ctx)
			return component.Raise(p, message.Alert{Pipeline: c.Pipeline, Stage: "alert", Source: c.Source}), nil
		}}
}

func dataPipeline(stages ...component.Stage) *Pipeline {
	return &Pipeline{
		Name:   "door",
		Source: &stubSource{name: "sensor", domain: component.DomainData},
		Stages: stages,
	}
}

func TestPipeline_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, dataPipeline(passStage("a"), alertStage("b")).Validate())
	})

	t.Run("domain mismatch", func(t *testing.T) {
		visual := &funcStage{name: "motion", domain: component.DomainVisual}
		err := dataPipeline(passStage("a"), visual).Validate()
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.ErrorIs(t, err, errors.ErrDomainMismatch)
		assert.Contains(t, err.Error(), "motion")
	})

	t.Run("no source", func(t *testing.T) {
		p := dataPipeline(passStage("a"))
		p.Source = nil
		assert.ErrorIs(t, p.Validate(), errors.ErrNoSourceBinding)
	})

	t.Run("no stages", func(t *testing.T) {
		err := dataPipeline().Validate()
		assert.True(t, errors.IsValidation(err))
		assert.ErrorIs(t, err, errors.ErrNoStages)
	})

	t.Run("no name", func(t *testing.T) {
		p := dataPipeline(passStage("a"))
		p.Name = ""
		assert.True(t, errors.IsValidation(p.Validate()))
	})
}

func newWorker(t *testing.T, p *Pipeline, capacity int) (*Worker, *mailbox.Mailbox, chan message.Event, *metric.Metrics) {
	t.Helper()
	mb := mailbox.New(p.Source.Name())
	events := make(chan message.Event, capacity)
	m := metric.NewMetrics()
	return NewWorker(p, mb, events,
		WithLogger(slog.New(slog.DiscardHandler)), WithMetrics(m), WithMonitor(health.NewMonitor())), mb, events, m
}

func TestWorker_ShortCircuit(t *testing.T) {
	first, gate, last := passStage("first"), haltStage("gate"), alertStage("last")
	w, mb, events, m := newWorker(t, dataPipeline(first, gate, last), 4)
	mb.Set(1)

	outcome := w.Cycle(context.Background())

	assert.Equal(t, OutcomeShortCircuit, outcome)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, gate.calls.Load())
	assert.EqualValues(t, 0, last.calls.Load())
	assert.Empty(t, events)
	assert.EqualValues(t, 1, w.Status().ShortCircuits)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineCycles.WithLabelValues("door", metric.OutcomeShortCircuit)))
}

func TestWorker_EmitsAlert(t *testing.T) {
	w, mb, events, m := newWorker(t, dataPipeline(passStage("first"), alertStage("last")), 4)
	mb.Set(42)

	require.Equal(t, OutcomeAlert, w.Cycle(context.Background()))
	require.Len(t, events, 1)

	ev := <-events
	assert.Equal(t, "door", ev.Sender)
	assert.True(t, ev.Alert)
	assert.NotEmpty(t, ev.ID)
	alert, ok := ev.Payload.(message.Alert)
	require.True(t, ok)
	assert.Equal(t, "door", alert.Pipeline)
	assert.Equal(t, "sensor", alert.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsEmitted.WithLabelValues("door")))
}

func TestWorker_PayloadThreading(t *testing.T) {
	double := &funcStage{name: "double", domain: component.DomainData,
		fn: func(_ context.Context, p any) (component.Result, error) { return component.Pass(p.(int) * 2), nil }}
	var seen any
	record := &funcStage{name: "record", domain: component.DomainData,
		fn: func(_ context.Context, p any) (component.Result, error) {
			seen = p
			return component.Halt(p), nil
		}}

	w, mb, _, _ := newWorker(t, dataPipeline(double, double, record), 1)
	mb.Set(3)
	w.Cycle(context.Background())

	assert.Equal(t, 12, seen)
}

func TestWorker_StageErrorIsFault(t *testing.T) {
	broken := &funcStage{name: "broken", domain: component.DomainData,
		fn: func(context.Context, any) (component.Result, error) {
			return component.Result{}, stderrors.New("decoder exploded")
		}}
	after := alertStage("after")
	w, mb, events, m := newWorker(t, dataPipeline(broken, after), 1)
	mb.Set(1)

	assert.Equal(t, OutcomeFault, w.Cycle(context.Background()))
	assert.Equal(t, OutcomeFault, w.Cycle(context.Background()))

	assert.Empty(t, events)
	assert.EqualValues(t, 0, after.calls.Load())
	st := w.Status()
	assert.EqualValues(t, 2, st.Faults)
	assert.EqualValues(t, 2, st.Cycles)
	assert.Contains(t, st.LastError, "decoder exploded")
	assert.True(t, errors.IsStageFault(w.LastError()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StageFaults.WithLabelValues("door", "broken")))
}

func TestWorker_PanicIsFault(t *testing.T) {
	var calls atomic.Int64
	flaky := &funcStage{name: "flaky", domain: component.DomainData,
		fn: func(_ context.Context, p any) (component.Result, error) {
			if calls.Add(1) == 1 {
				var m map[string]int
				m["boom"]++
			}
			return component.Pass(p), nil
		}}
	w, mb, events, _ := newWorker(t, dataPipeline(flaky, alertStage("last")), 4)
	mb.Set(1)

	assert.Equal(t, OutcomeFault, w.Cycle(context.Background()))
	assert.Contains(t, w.Status().LastError, "panic")

	assert.Equal(t, OutcomeAlert, w.Cycle(context.Background()))
	assert.Len(t, events, 1)
}

func TestWorker_DropsWhenChannelFull(t *testing.T) {
	w, mb, events, m := newWorker(t, dataPipeline(alertStage("last")), 1)
	mb.Set(1)

	w.Cycle(context.Background())
	w.Cycle(context.Background())

	assert.Len(t, events, 1)
	assert.EqualValues(t, 1, w.Status().Dropped)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("door")))
}

func TestWorker_IdleUntilFirstSample(t *testing.T) {
	w, _, _, _ := newWorker(t, dataPipeline(alertStage("last")), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Equal(t, OutcomeIdle, w.Cycle(ctx))
	assert.EqualValues(t, 0, w.Status().Cycles)
}

func TestWorker_SkipStale(t *testing.T) {
	p := dataPipeline(alertStage("last"))
	p.SkipStale = true
	w, mb, events, _ := newWorker(t, p, 8)
	mb.Set(1)

	require.Equal(t, OutcomeAlert, w.Cycle(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeIdle, w.Cycle(ctx), "same sample must not be processed twice")

	mb.Set(2)
	assert.Equal(t, OutcomeAlert, w.Cycle(context.Background()))
	assert.Len(t, events, 2)
	assert.EqualValues(t, 2, w.Status().LastSeq)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	w, mb, events, _ := newWorker(t, dataPipeline(alertStage("last")), 16)
	mb.Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	require.Eventually(t, func() bool { return len(events) > 0 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, component.StateStopped, w.Status().State)
}

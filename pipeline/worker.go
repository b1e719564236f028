package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/mailbox"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
)

// Outcome is the result of one pipeline cycle.
type Outcome string

// Cycle outcomes.
const (
	OutcomeAlert        Outcome = metric.OutcomeAlert
	OutcomeShortCircuit Outcome = metric.OutcomeShortCircuit
	OutcomeFault        Outcome = metric.OutcomeFault
	OutcomeIdle         Outcome = metric.OutcomeIdle
)

// Status is a point-in-time view of a pipeline worker.
type Status struct {
	Name          string          `json:"name"`
	Source        string          `json:"source"`
	Zone          string          `json:"zone,omitempty"`
	State         component.State `json:"state"`
	Cycles        int64           `json:"cycles"`
	Alerts        int64           `json:"alerts"`
	ShortCircuits int64           `json:"short_circuits"`
	Faults        int64           `json:"faults"`
	Dropped       int64           `json:"dropped"`
	LastSeq       uint64          `json:"last_seq"`
	LastError     string          `json:"last_error,omitempty"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithMonitor reports health as "pipeline/<name>".
func WithMonitor(m *health.Monitor) Option {
	return func(w *Worker) { w.monitor = m }
}

// Worker runs a pipeline's cycle loop.
type Worker struct {
	pipeline *Pipeline
	mailbox  *mailbox.Mailbox
	events   chan<- message.Event
	logger   *slog.Logger
	metrics  *metric.Metrics
	monitor  *health.Monitor

	state   atomic.Int32
	started atomic.Int64
	done    chan struct{}

	// lastSeq is owned by the cycle goroutine; seen mirrors it for Status.
	lastSeq uint64
	seen    atomic.Uint64

	cycles        atomic.Int64
	alerts        atomic.Int64
	shortCircuits atomic.Int64
	faults        atomic.Int64
	dropped       atomic.Int64
	lastError     atomic.Pointer[errorBox]
	lastAlert     atomic.Int64
}

type errorBox struct{ err error }

// NewWorker binds a validated pipeline to the mailbox of its source and the
// shared event channel.
func NewWorker(p *Pipeline, mb *mailbox.Mailbox, events chan<- message.Event, opts ...Option) *Worker {
	w := &Worker{
		pipeline: p,
		mailbox:  mb,
		events:   events,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "pipeline", "pipeline", p.Name)
	w.state.Store(int32(component.StateCreated))
	return w
}

// Name returns the pipeline name.
func (w *Worker) Name() string {
	return w.pipeline.Name
}

// Run executes cycles until ctx is cancelled. Cancellation is observed
// between cycles and while waiting on the mailbox; a stage call in progress
// is not interrupted.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	w.started.Store(time.Now().UnixNano())
	w.state.Store(int32(component.StateRunning))
	w.logger.Info("Pipeline worker started",
		"source", w.pipeline.Source.Name(), "stages", len(w.pipeline.Stages))

	for ctx.Err() == nil {
		w.Cycle(ctx)
	}

	w.state.Store(int32(component.StateStopped))
	w.updateHealth()
	w.logger.Info("Pipeline worker stopped", "cycles", w.cycles.Load(), "alerts", w.alerts.Load())
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Cycle runs FETCH, every stage in order, and EMIT once. Stage errors and
// panics end the cycle with OutcomeFault.
func (w *Worker) Cycle(ctx context.Context) (outcome Outcome) {
	sample, ok := w.fetch(ctx)
	if !ok {
		return OutcomeIdle
	}
	w.lastSeq = sample.Seq
	w.seen.Store(sample.Seq)

	stage := ""
	defer func() {
		if r := recover(); r != nil {
			w.fault(stage, errors.Panic(r, "Pipeline", "Cycle"))
			outcome = OutcomeFault
		}
		w.cycles.Add(1)
		w.metrics.RecordCycle(w.pipeline.Name, string(outcome))
	}()

	stageCtx := component.WithCycle(ctx, component.Cycle{
		Pipeline: w.pipeline.Name,
		Source:   sample.Source,
		Seq:      sample.Seq,
		Captured: sample.Captured,
	})

	payload := sample.Payload
	var alert any
	for _, st := range w.pipeline.Stages {
		stage = st.Name()
		began := time.Now()
		res, err := st.Process(stageCtx, payload)
		w.metrics.ObserveStage(w.pipeline.Name, stage, time.Since(began))
		if err != nil {
			w.fault(stage, errors.StageFault(err, "Pipeline", "Cycle", "stage "+stage))
			return OutcomeFault
		}
		if !res.Continue {
			w.shortCircuits.Add(1)
			return OutcomeShortCircuit
		}
		payload = res.Payload
		alert = res.Alert
	}

	w.emit(alert)
	return OutcomeAlert
}

// fetch returns the sample to process. With SkipStale it blocks until a
// sample newer than the last processed one arrives; otherwise it returns the
// current sample and only blocks while nothing has been published yet.
func (w *Worker) fetch(ctx context.Context) (message.Sample, bool) {
	if w.pipeline.SkipStale {
		s, err := w.mailbox.Wait(ctx, w.lastSeq)
		return s, err == nil
	}
	if s, ok := w.mailbox.Get(); ok {
		return s, true
	}
	s, err := w.mailbox.Wait(ctx, 0)
	return s, err == nil
}

func (w *Worker) emit(alert any) {
	ev := message.NewEvent(w.pipeline.Name, true, alert)
	select {
	case w.events <- ev:
		w.alerts.Add(1)
		w.lastAlert.Store(ev.Time.UnixNano())
		w.metrics.RecordEvent(w.pipeline.Name)
	default:
		w.dropped.Add(1)
		w.metrics.RecordEventDropped(w.pipeline.Name)
		w.logger.Warn("Event channel full, alert dropped", "event_id", ev.ID)
	}
}

func (w *Worker) fault(stage string, err error) {
	n := w.faults.Add(1)
	w.lastError.Store(&errorBox{err: err})
	w.metrics.RecordStageFault(w.pipeline.Name, stage)
	w.logger.Error("Stage fault", "stage", stage, "error", err, "faults", n)
	w.updateHealth()
}

// LastError returns the most recent stage fault.
func (w *Worker) LastError() error {
	if b := w.lastError.Load(); b != nil {
		return b.err
	}
	return nil
}

// Status returns counters and state.
func (w *Worker) Status() Status {
	s := Status{
		Name:          w.pipeline.Name,
		Source:        w.pipeline.Source.Name(),
		Zone:          w.pipeline.Zone,
		State:         component.State(w.state.Load()),
		Cycles:        w.cycles.Load(),
		Alerts:        w.alerts.Load(),
		ShortCircuits: w.shortCircuits.Load(),
		Faults:        w.faults.Load(),
		Dropped:       w.dropped.Load(),
		LastSeq:       w.seen.Load(),
	}
	if err := w.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (w *Worker) updateHealth() {
	if w.monitor == nil {
		return
	}
	var started, last time.Time
	if ns := w.started.Load(); ns > 0 {
		started = time.Unix(0, ns)
	}
	if ns := w.lastAlert.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	alive := component.State(w.state.Load()) == component.StateRunning
	w.monitor.Update("pipeline/"+w.pipeline.Name, health.FromWorker(w.pipeline.Name, health.WorkerReport{
		Alive:      alive,
		Started:    started,
		LastError:  w.LastError(),
		ErrorCount: w.faults.Load(),
		Processed:  w.cycles.Load(),
		LastActive: last,
	}))
}

// ReportHealth pushes the current status to the monitor.
func (w *Worker) ReportHealth() {
	w.updateHealth()
}

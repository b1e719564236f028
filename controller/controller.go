// Package controller drains alert events from pipelines, decides whether the
// configured query holds and dispatches the action when it does.
package controller

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
	"github.com/c360/watchpost/pkg/worker"
)

// Config controls the decision loop.
type Config struct {
	// Query is the boolean template over @PIPELINE@ placeholders.
	Query string
	// PollInterval is the time between drains.
	PollInterval time.Duration
	// MessageLimit caps the events drained per tick.
	MessageLimit int
	// Workers and QueueSize size the dispatch pool.
	Workers   int
	QueueSize int
	// Throttle caps dispatches per second. Zero disables throttling.
	Throttle      float64
	ThrottleBurst int
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Query:        "false",
		PollInterval: 3 * time.Second,
		MessageLimit: 100,
		Workers:      4,
		QueueSize:    16,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Query == "" {
		c.Query = def.Query
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MessageLimit <= 0 {
		c.MessageLimit = def.MessageLimit
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.Throttle > 0 && c.ThrottleBurst <= 0 {
		c.ThrottleBurst = 1
	}
	return c
}

// Status is a point-in-time view of the controller.
type Status struct {
	State          component.State  `json:"state"`
	Query          string           `json:"query"`
	Action         string           `json:"action"`
	Ticks          int64            `json:"ticks"`
	Drained        int64            `json:"drained"`
	Decisions      int64            `json:"decisions"`
	Alerts         int64            `json:"alerts"`
	QueryFaults    int64            `json:"query_faults"`
	Dispatched     int64            `json:"dispatched"`
	DispatchErrors int64            `json:"dispatch_errors"`
	Dropped        int64            `json:"dropped"`
	LastAlert      *time.Time       `json:"last_alert,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	Zones          map[string]bool  `json:"zones,omitempty"`
	Pool           worker.PoolStats `json:"pool"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records decisions and dispatches.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithMonitor reports health as "controller".
func WithMonitor(m *health.Monitor) Option {
	return func(c *Controller) { c.monitor = m }
}

// WithRegistry registers the dispatch pool metrics.
func WithRegistry(r metric.Registrar) Option {
	return func(c *Controller) { c.registry = r }
}

// WithZones attaches arm switches. membership maps pipeline names to zones.
func WithZones(zones *Zones, membership map[string]string) Option {
	return func(c *Controller) {
		c.zones = zones
		c.membership = membership
	}
}

// Controller is the single aggregation worker.
type Controller struct {
	cfg        Config
	action     component.Action
	events     <-chan message.Event
	logger     *slog.Logger
	metrics    *metric.Metrics
	monitor    *health.Monitor
	registry   metric.Registrar
	zones      *Zones
	membership map[string]string
	limiter    *rate.Limiter
	pool       *worker.Pool[[]any]

	state   atomic.Int32
	started atomic.Int64
	done    chan struct{}

	ticks          atomic.Int64
	drained        atomic.Int64
	decisions      atomic.Int64
	alerts         atomic.Int64
	queryFaults    atomic.Int64
	dispatched     atomic.Int64
	dispatchErrors atomic.Int64
	dropped        atomic.Int64
	lastAlert      atomic.Int64

	errMu     sync.Mutex
	lastError error
}

// New creates a controller reading events and notifying action.
func New(cfg Config, action component.Action, events <-chan message.Event, opts ...Option) (*Controller, error) {
	if action == nil {
		return nil, errors.Configuration("Controller", "New", "controller has no action")
	}
	if events == nil {
		return nil, errors.Configuration("Controller", "New", "controller has no event channel")
	}

	c := &Controller{
		cfg:    cfg.withDefaults(),
		action: action,
		events: events,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "controller", "action", action.Name())

	if c.cfg.Throttle > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(c.cfg.Throttle), c.cfg.ThrottleBurst)
	}

	poolOpts := []worker.Option[[]any]{
		worker.WithErrorHandler[[]any](c.onDispatchError),
	}
	if c.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[[]any](c.registry, "dispatch"))
	}
	c.pool = worker.NewPool(c.cfg.Workers, c.cfg.QueueSize, c.notify, poolOpts...)

	c.state.Store(int32(component.StateCreated))
	return c, nil
}

// Zones returns the arm switches, nil if none were configured.
func (c *Controller) Zones() *Zones {
	return c.zones
}

// Run ticks until ctx is cancelled. The first tick happens immediately.
// Cancellation abandons queued dispatches.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	if err := c.pool.Start(ctx); err != nil {
		c.state.Store(int32(component.StateFailed))
		return errors.WrapFatal(err, "Controller", "Run", "start dispatch pool")
	}
	c.started.Store(time.Now().UnixNano())
	c.state.Store(int32(component.StateRunning))
	c.logger.Info("Controller started",
		"query", c.cfg.Query, "poll_interval", c.cfg.PollInterval, "message_limit", c.cfg.MessageLimit)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.Tick(ctx)
		select {
		case <-ctx.Done():
			_ = c.pool.Stop(0)
			c.state.Store(int32(component.StateStopped))
			c.updateHealth()
			c.logger.Info("Controller stopped", "ticks", c.ticks.Load(), "dispatched", c.dispatched.Load())
			return nil
		case <-ticker.C:
		}
	}
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Tick drains, decides and, on a positive decision, dispatches once.
func (c *Controller) Tick(ctx context.Context) Decision {
	c.ticks.Add(1)

	events := c.Drain(c.cfg.MessageLimit)
	c.metrics.RecordDrained(len(events))
	c.logger.Debug("Checking event queue", "drained", len(events))

	d := c.Decide(events)
	if d.Alert && ctx.Err() == nil {
		c.dispatch(d.Batch)
	}
	c.updateHealth()
	return d
}

// Drain takes at most limit events from the channel without blocking.
func (c *Controller) Drain(limit int) []message.Event {
	var events []message.Event
	for len(events) < limit {
		select {
		case ev := <-c.events:
			events = append(events, ev)
		default:
			c.drained.Add(int64(len(events)))
			return events
		}
	}
	c.drained.Add(int64(len(events)))
	return events
}

// Decide applies zones to events and evaluates the query. Evaluation faults
// are logged and yield false.
func (c *Controller) Decide(events []message.Event) Decision {
	events = c.applyZones(events)

	d := Decide(c.cfg.Query, events)
	c.decisions.Add(1)
	if d.Err != nil {
		c.queryFaults.Add(1)
		c.setError(d.Err)
		c.metrics.RecordQueryFault()
		c.logger.Error("Could not evaluate query", "expression", d.Expression, "error", d.Err)
	}
	c.metrics.RecordDecision(d.Alert)
	for sender, alerted := range d.Verdicts {
		if alerted {
			c.logger.Debug("Sender reported alerts", "sender", sender)
		}
	}
	if d.Alert {
		c.alerts.Add(1)
		c.lastAlert.Store(time.Now().UnixNano())
		c.logger.Info("Query satisfied", "expression", d.Expression, "batch", len(d.Batch))
	}
	return d
}

func (c *Controller) applyZones(events []message.Event) []message.Event {
	if c.zones == nil || len(c.membership) == 0 {
		return events
	}
	out := make([]message.Event, len(events))
	for i, ev := range events {
		if ev.Alert && !c.zones.Armed(c.membership[ev.Sender]) {
			ev.Alert = false
			ev.Payload = nil
		}
		out[i] = ev
	}
	return out
}

func (c *Controller) dispatch(batch []any) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.dropped.Add(1)
		c.metrics.RecordDispatch(c.action.Name(), metric.DispatchDropped)
		c.logger.Warn("Dispatch throttled", "batch", len(batch))
		return
	}
	if err := c.pool.Submit(batch); err != nil {
		c.dropped.Add(1)
		c.metrics.RecordDispatch(c.action.Name(), metric.DispatchDropped)
		c.logger.Warn("Dispatch dropped", "batch", len(batch), "error", err)
	}
}

func (c *Controller) notify(ctx context.Context, batch []any) error {
	if err := c.action.Notify(ctx, batch); err != nil {
		return err
	}
	c.dispatched.Add(1)
	c.metrics.RecordDispatch(c.action.Name(), metric.DispatchSuccess)
	return nil
}

func (c *Controller) onDispatchError(batch []any, err error) {
	c.dispatchErrors.Add(1)
	wrapped := errors.Wrap(err, "Controller", "dispatch", "notify "+c.action.Name())
	c.setError(wrapped)
	c.metrics.RecordDispatch(c.action.Name(), metric.DispatchError)
	if stderrors.Is(err, context.Canceled) {
		c.logger.Debug("Dispatch cancelled", "batch", len(batch))
		return
	}
	c.logger.Error("Action failed", "batch", len(batch), "error", wrapped)
}

func (c *Controller) setError(err error) {
	c.errMu.Lock()
	c.lastError = err
	c.errMu.Unlock()
}

// LastError returns the most recent query or dispatch failure.
func (c *Controller) LastError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastError
}

// Status returns counters and state.
func (c *Controller) Status() Status {
	s := Status{
		State:          component.State(c.state.Load()),
		Query:          c.cfg.Query,
		Action:         c.action.Name(),
		Ticks:          c.ticks.Load(),
		Drained:        c.drained.Load(),
		Decisions:      c.decisions.Load(),
		Alerts:         c.alerts.Load(),
		QueryFaults:    c.queryFaults.Load(),
		Dispatched:     c.dispatched.Load(),
		DispatchErrors: c.dispatchErrors.Load(),
		Dropped:        c.dropped.Load(),
		Zones:          c.zones.Snapshot(),
		Pool:           c.pool.Stats(),
	}
	if ns := c.lastAlert.Load(); ns > 0 {
		last := time.Unix(0, ns)
		s.LastAlert = &last
	}
	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

func (c *Controller) updateHealth() {
	if c.monitor == nil {
		return
	}
	var started time.Time
	if ns := c.started.Load(); ns > 0 {
		started = time.Unix(0, ns)
	}
	var last time.Time
	if ns := c.lastAlert.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	c.monitor.Update("controller", health.FromWorker("controller", health.WorkerReport{
		Alive:      component.State(c.state.Load()) == component.StateRunning,
		Started:    started,
		LastError:  c.LastError(),
		ErrorCount: c.queryFaults.Load() + c.dispatchErrors.Load(),
		Processed:  c.decisions.Load(),
		LastActive: last,
	}))
}

package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/config"
	"github.com/c360/watchpost/controller"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/mailbox"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
	"github.com/c360/watchpost/pipeline"
	"github.com/c360/watchpost/source"
)

// SystemName labels the aggregate health status.
const SystemName = "watchpost"

// Engine is a wired watchpost system. Build it with New, run it with Start
// and Stop (or Run).
type Engine struct {
	runID   string
	cfg     *config.Config
	logger  *slog.Logger
	monitor *health.Monitor
	metrics *engineMetrics

	sources    []component.Source
	pipelines  []*pipeline.Pipeline
	action     component.Action
	events     chan message.Event
	supervisor *source.Supervisor
	controller *controller.Controller
	workers    []*pipeline.Worker
	zones      *controller.Zones
	validation ValidationResult

	lifecycleMu   sync.Mutex
	state         atomic.Int32
	started       atomic.Int64
	cancelWork    context.CancelFunc
	cancelSources context.CancelFunc
}

// New resolves every plugin in cfg through registry and validates the
// pipelines. Nothing is started and no plugin performs I/O.
func New(cfg *config.Config, registry *component.Registry, deps component.Dependencies) (*Engine, error) {
	if cfg == nil {
		return nil, errors.Configuration("Engine", "New", "config cannot be nil")
	}
	if registry == nil {
		return nil, errors.Configuration("Engine", "New", "component registry cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.GetLogger().With("component", "engine")
	e := &Engine{
		runID:   uuid.NewString(),
		cfg:     cfg,
		logger:  logger,
		monitor: health.NewMonitor(),
	}

	metrics, err := newEngineMetrics(deps.MetricsRegistry)
	if err != nil {
		logger.Error("Failed to initialize engine metrics", "error", err)
		metrics = nil
	}
	e.metrics = metrics

	if err := e.build(registry, deps); err != nil {
		return nil, err
	}

	e.state.Store(int32(component.StateCreated))
	logger.Info("Engine built",
		"run_id", e.runID,
		"sources", len(e.sources),
		"pipelines", len(e.workers),
		"disabled_pipelines", len(e.validation.Errors),
		"action", e.action.Name())
	return e, nil
}

func (e *Engine) build(registry *component.Registry, deps component.Dependencies) error {
	cfg := e.cfg

	// One instance per distinct source name, shared by every pipeline
	// that references it.
	built := make(map[string]component.Source)
	descriptors := make(map[string]config.SourceConfig)
	for _, sc := range cfg.Sources() {
		src, err := registry.NewSource(sc.Type, sc.Name, sc.Params, deps)
		if err != nil {
			return err
		}
		built[sc.Name] = src
		descriptors[sc.Name] = sc
	}

	all := make([]*pipeline.Pipeline, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p := &pipeline.Pipeline{
			Name:      pc.Name,
			Source:    built[pc.Source.Name],
			Zone:      pc.Zone,
			SkipStale: pc.SkipStale,
		}
		for _, sc := range pc.Stages {
			name := sc.Name
			if name == "" {
				name = sc.Type
			}
			stage, err := registry.NewStage(sc.Type, name, sc.Params, deps)
			if err != nil {
				return err
			}
			p.Stages = append(p.Stages, stage)
		}
		all = append(all, p)
	}

	ac := cfg.Controller.Action
	actionName := ac.Name
	if actionName == "" {
		actionName = ac.Type
	}
	action, err := registry.NewAction(ac.Type, actionName, ac.Params, deps)
	if err != nil {
		return err
	}
	e.action = action

	e.pipelines = validatePipelines(all, &e.validation, e.logger)
	e.metrics.setInvalid(len(e.validation.Errors))
	if len(e.pipelines) == 0 {
		e.validation.finish()
		return errors.Configuration("Engine", "New", "no pipeline passed validation (%d disabled)", len(all))
	}
	validateQuery(cfg.Controller.Query, e.pipelines, &e.validation, e.logger)
	e.validation.finish()

	core := deps.MetricsRegistry.CoreMetrics()
	e.supervisor = source.NewSupervisor(source.Config{
		PollInterval:     cfg.Supervisor.PollingInterval.Std(),
		FailureThreshold: cfg.Supervisor.FailureThreshold,
	}, e.logger, core, e.monitor)

	capacity := cfg.Supervisor.EventCapacity
	if capacity <= 0 {
		capacity = config.DefaultEventCapacity
	}
	e.events = make(chan message.Event, capacity)

	mailboxes := make(map[string]*mailbox.Mailbox)
	for _, p := range e.pipelines {
		name := p.Source.Name()
		if _, ok := mailboxes[name]; ok {
			continue
		}
		sc := descriptors[name]
		mb, err := e.supervisor.Add(p.Source, source.Options{Rate: sc.Rate, Burst: sc.Burst})
		if err != nil {
			return err
		}
		mailboxes[name] = mb
		e.sources = append(e.sources, p.Source)
	}

	if len(cfg.Controller.Zones) > 0 {
		e.zones = controller.NewZones(cfg.Controller.Zones)
	}

	opts := []controller.Option{
		controller.WithLogger(e.logger),
		controller.WithMetrics(core),
		controller.WithMonitor(e.monitor),
		controller.WithZones(e.zones, cfg.ZoneMembership()),
	}
	if deps.MetricsRegistry != nil {
		opts = append(opts, controller.WithRegistry(deps.MetricsRegistry))
	}
	ctrl, err := controller.New(controller.Config{
		Query:         cfg.Controller.Query,
		PollInterval:  cfg.Controller.PollingInterval.Std(),
		MessageLimit:  cfg.Controller.MessageLimit,
		Workers:       cfg.Controller.Workers,
		QueueSize:     cfg.Controller.QueueSize,
		Throttle:      cfg.Controller.Throttle,
		ThrottleBurst: cfg.Controller.ThrottleBurst,
	}, action, e.events, opts...)
	if err != nil {
		return err
	}
	e.controller = ctrl

	for _, p := range e.pipelines {
		w := pipeline.NewWorker(p, mailboxes[p.Source.Name()], e.events,
			pipeline.WithLogger(e.logger),
			pipeline.WithMetrics(core),
			pipeline.WithMonitor(e.monitor))
		e.workers = append(e.workers, w)
	}
	return nil
}

// plugins returns every wired plugin instance once: sources, then stages,
// then the action.
func (e *Engine) plugins() []any {
	out := make([]any, 0, len(e.sources)+len(e.pipelines)+1)
	for _, s := range e.sources {
		out = append(out, s)
	}
	for _, p := range e.pipelines {
		for _, st := range p.Stages {
			out = append(out, st)
		}
	}
	return append(out, e.action)
}

// Start opens plugins and spawns every worker. It returns once the workers
// are running. Cancelling ctx stops the workers the same way Stop does, but
// only Stop closes plugins.
func (e *Engine) Start(ctx context.Context) (err error) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if state := component.State(e.state.Load()); state != component.StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "engine is "+state.String())
	}
	defer func() { e.metrics.recordStart(err) }()

	if err := e.open(ctx); err != nil {
		e.state.Store(int32(component.StateFailed))
		return err
	}

	sourceCtx, cancelSources := context.WithCancel(ctx)
	workCtx, cancelWork := context.WithCancel(ctx)
	e.cancelSources = cancelSources
	e.cancelWork = cancelWork

	if err := e.supervisor.Start(sourceCtx); err != nil {
		cancelSources()
		cancelWork()
		e.state.Store(int32(component.StateFailed))
		_ = e.close()
		return errors.WrapFatal(err, "Engine", "Start", "start source workers")
	}
	go e.supervisor.Run(sourceCtx)

	go func() {
		if err := e.controller.Run(workCtx); err != nil {
			e.logger.Error("Controller exited", "error", err)
		}
	}()

	for _, w := range e.workers {
		go w.Run(workCtx)
	}

	e.started.Store(time.Now().UnixNano())
	e.state.Store(int32(component.StateRunning))
	e.logger.Info("Engine started",
		"run_id", e.runID, "sources", len(e.sources), "pipelines", len(e.workers), "query", e.cfg.Controller.Query)
	return nil
}

// open calls Open on every plugin that has one. On failure the plugins
// already opened are closed again.
func (e *Engine) open(ctx context.Context) error {
	var opened []component.Closer
	for _, p := range e.plugins() {
		o, ok := p.(component.Opener)
		if !ok {
			continue
		}
		if err := o.Open(ctx); err != nil {
			for i := len(opened) - 1; i >= 0; i-- {
				_ = opened[i].Close()
			}
			return errors.WrapFatal(err, "Engine", "Start", "open "+pluginName(p))
		}
		if c, ok := p.(component.Closer); ok {
			opened = append(opened, c)
		}
	}
	return nil
}

// close calls Close on every plugin that has one and joins the errors.
func (e *Engine) close() error {
	var errs []error
	for _, p := range e.plugins() {
		c, ok := p.(component.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			e.logger.Warn("Close failed", "plugin", pluginName(p), "error", err)
			errs = append(errs, errors.Wrap(err, "Engine", "Stop", "close "+pluginName(p)))
		}
	}
	return stderrors.Join(errs...)
}

func pluginName(p any) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "plugin"
}

// Stop cancels the pipeline workers and the controller without waiting for
// them, signals the source workers and waits for them up to the shutdown
// grace, then closes plugins. Stopping an engine that is not running is a
// no-op.
func (e *Engine) Stop() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if component.State(e.state.Load()) != component.StateRunning {
		return nil
	}
	began := time.Now()

	e.cancelWork()
	e.cancelSources()

	grace := e.cfg.Supervisor.ShutdownGrace.Std()
	abandoned := e.supervisor.Wait(grace)
	if len(abandoned) > 0 {
		e.logger.Warn("Source workers did not stop within grace period, abandoning",
			"grace", grace, "sources", abandoned)
	}

	err := e.close()
	e.state.Store(int32(component.StateStopped))
	e.metrics.recordStop(err, time.Since(began).Seconds(), len(abandoned))
	e.logger.Info("Engine stopped", "run_id", e.runID, "duration", time.Since(began), "abandoned", len(abandoned))
	return err
}

// Run starts the engine, blocks until ctx is done and stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop()
}

// State returns the engine lifecycle state.
func (e *Engine) State() component.State {
	return component.State(e.state.Load())
}

// RunID identifies this engine instance in logs and status documents.
func (e *Engine) RunID() string {
	return e.runID
}

// Validation returns the issues found while building.
func (e *Engine) Validation() ValidationResult {
	return e.validation
}

// Health returns the monitor every worker reports to.
func (e *Engine) Health() *health.Monitor {
	return e.monitor
}

// LatestSample returns the current mailbox content of the named source.
func (e *Engine) LatestSample(source string) (message.Sample, bool) {
	mb, ok := e.supervisor.Mailbox(source)
	if !ok {
		return message.Sample{}, false
	}
	return mb.Get()
}

// SetZone arms or disarms a zone.
func (e *Engine) SetZone(name string, armed bool) error {
	if err := e.zones.Set(name, armed); err != nil {
		return err
	}
	e.logger.Info("Zone updated", "zone", name, "armed", armed)
	return nil
}

// ToggleZone flips a zone and returns its new state.
func (e *Engine) ToggleZone(name string) (bool, error) {
	armed, err := e.zones.Toggle(name)
	if err != nil {
		return false, err
	}
	e.logger.Info("Zone toggled", "zone", name, "armed", armed)
	return armed, nil
}

// Zones returns the current arm state of every zone.
func (e *Engine) Zones() map[string]bool {
	return e.zones.Snapshot()
}

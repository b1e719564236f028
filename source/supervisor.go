// Package source runs and supervises source workers. Each distinct source
// gets one mailbox and one worker; dead workers are replaced by the
// supervision loop with a fresh worker bound to the same mailbox.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/health"
	"github.com/c360/watchpost/mailbox"
	"github.com/c360/watchpost/metric"
)

// Config controls supervision.
type Config struct {
	// PollInterval is how often liveness is checked.
	PollInterval time.Duration
	// FailureThreshold is the number of consecutive acquisition failures a
	// worker tolerates; one more and it exits.
	FailureThreshold int
}

// DefaultConfig returns the supervision defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     2 * time.Second,
		FailureThreshold: 10,
	}
}

// Options are per-source settings.
type Options struct {
	// Rate caps acquisitions per second. Zero means unpaced.
	Rate float64
	// Burst is the limiter burst, at least 1.
	Burst int
}

type entry struct {
	source   component.Source
	mailbox  *mailbox.Mailbox
	opts     Options
	limiter  *rate.Limiter
	worker   *Worker
	restarts int
}

// Supervisor owns the mailboxes and workers of all sources.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
}

// NewSupervisor creates a supervisor. metrics and monitor may be nil.
func NewSupervisor(cfg Config, logger *slog.Logger, metrics *metric.Metrics, monitor *health.Monitor) *Supervisor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		metrics: metrics,
		monitor: monitor,
		entries: make(map[string]*entry),
	}
}

// Add registers src and returns its mailbox. Adding the same instance twice
// returns the existing mailbox; a different instance under the same name is
// a configuration error.
func (s *Supervisor) Add(src component.Source, opts Options) (*mailbox.Mailbox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := src.Name()
	if e, ok := s.entries[name]; ok {
		if e.source != src {
			return nil, errors.Configuration("Supervisor", "Add", "%v: %s", errors.ErrSourceConflict, name)
		}
		return e.mailbox, nil
	}
	if s.ctx != nil {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Add", "add source")
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}

	s.entries[name] = &entry{
		source:  src,
		mailbox: mailbox.New(name),
		opts:    opts,
		limiter: limiter,
	}
	return s.entries[name].mailbox, nil
}

// Mailbox returns the mailbox of the named source.
func (s *Supervisor) Mailbox(name string) (*mailbox.Mailbox, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, false
	}
	return e.mailbox, true
}

// Start spawns one worker per source. ctx is the stop signal: once it is
// done workers exit at their next check and nothing is respawned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Supervisor", "Start", "start workers")
	}
	s.ctx = ctx

	for _, name := range s.sortedNames() {
		s.spawn(s.entries[name])
	}
	return nil
}

// caller holds s.mu
func (s *Supervisor) spawn(e *entry) {
	generation := 1
	if e.worker != nil {
		generation = e.worker.Generation() + 1
	}

	logger := s.logger.With("component", "source", "source", e.source.Name())
	w := newWorker(e.source, e.mailbox, e.limiter, s.cfg.FailureThreshold, generation, logger, s.metrics)
	e.worker = w
	w.start(s.ctx)

	logger.Debug("Source worker spawned", "generation", generation)
}

// caller holds s.mu
func (s *Supervisor) sortedNames() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckAndResurrect replaces every dead worker with a new one bound to the
// same mailbox and returns how many were respawned. It does nothing once the
// stop signal is set.
func (s *Supervisor) CheckAndResurrect() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.ctx.Err() != nil {
		return 0
	}

	respawned := 0
	for _, name := range s.sortedNames() {
		e := s.entries[name]
		w := e.worker
		if w.Alive() {
			s.report(name, w)
			continue
		}

		fault := fmt.Errorf("%w: source %s (generation %d, %s)", errors.ErrWorkerLiveness, name, w.Generation(), w.State())
		s.logger.Warn("Source worker not alive, respawning",
			"source", name, "error", fault, "last_error", w.LastError())

		e.restarts++
		s.metrics.RecordRestart(name)
		s.spawn(e)
		s.report(name, e.worker)
		respawned++
	}
	return respawned
}

func (s *Supervisor) report(name string, w *Worker) {
	if s.monitor == nil {
		return
	}
	key := "source/" + name
	s.monitor.Update(key, health.FromWorker(key, w.report()))
}

// Run checks liveness every poll interval until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckAndResurrect()
		}
	}
}

// Kill stops the named worker without respawning it; the next liveness check
// will. It waits for the worker to exit or ctx to be done.
func (s *Supervisor) Kill(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()

	if !ok || e.worker == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnknownSource, name), "Supervisor", "Kill", "find worker")
	}

	w := e.worker
	w.stop()
	select {
	case <-w.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker has exited or grace elapses, and returns
// the sorted names of the workers still running. Those are abandoned.
func (s *Supervisor) Wait(grace time.Duration) []string {
	s.mu.Lock()
	workers := make(map[string]*Worker, len(s.entries))
	for name, e := range s.entries {
		if e.worker != nil {
			workers[name] = e.worker
		}
	}
	s.mu.Unlock()

	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	for _, w := range workers {
		select {
		case <-w.Done():
		case <-deadline.C:
			var abandoned []string
			for name, other := range workers {
				if other.Alive() {
					abandoned = append(abandoned, name)
				}
			}
			sort.Strings(abandoned)
			return abandoned
		}
	}
	return nil
}

// Status describes one source.
type Status struct {
	Name       string           `json:"name"`
	Domain     component.Domain `json:"domain"`
	Alive      bool             `json:"alive"`
	State      component.State  `json:"state"`
	Generation int              `json:"generation"`
	Restarts   int              `json:"restarts"`
	Samples    int64            `json:"samples"`
	Failures   int64            `json:"failures"`
	Seq        uint64           `json:"seq"`
	LastError  string           `json:"last_error,omitempty"`
}

// Status returns all sources sorted by name.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, name := range s.sortedNames() {
		e := s.entries[name]
		st := Status{
			Name:     name,
			Domain:   e.source.Domain(),
			Restarts: e.restarts,
			Seq:      e.mailbox.Seq(),
			State:    component.StateCreated,
		}
		if w := e.worker; w != nil {
			st.Alive = w.Alive()
			st.State = w.State()
			st.Generation = w.Generation()
			st.Samples = w.samples.Load()
			st.Failures = w.failures.Load()
			if err := w.LastError(); err != nil {
				st.LastError = err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

// Names returns the distinct source names in sorted order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedNames()
}

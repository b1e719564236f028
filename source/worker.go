package source

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
	"github.com/c360/watchpost/mailbox"
	"github.com/c360/watchpost/metric"
)

// Worker runs one acquisition loop for one source. A Worker is never
// restarted; the supervisor replaces a dead worker with a new one bound to
// the same mailbox.
type Worker struct {
	source     component.Source
	mailbox    *mailbox.Mailbox
	limiter    *rate.Limiter
	threshold  int
	generation int
	logger     *slog.Logger
	metrics    *metric.Metrics

	cancel context.CancelFunc
	done   chan struct{}

	state     atomic.Int32
	started   time.Time
	samples   atomic.Int64
	failures  atomic.Int64
	lastError atomic.Pointer[errorBox]
	lastShot  atomic.Int64

	stopOnce sync.Once
}

type errorBox struct{ err error }

func newWorker(src component.Source, mb *mailbox.Mailbox, limiter *rate.Limiter, threshold, generation int,
	logger *slog.Logger, metrics *metric.Metrics) *Worker {
	w := &Worker{
		source:     src,
		mailbox:    mb,
		limiter:    limiter,
		threshold:  threshold,
		generation: generation,
		logger:     logger.With("generation", generation),
		metrics:    metrics,
		done:       make(chan struct{}),
	}
	w.state.Store(int32(component.StateCreated))
	return w
}

// start launches the loop on its own goroutine under a child of parent.
func (w *Worker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.started = time.Now()
	w.state.Store(int32(component.StateRunning))
	w.metrics.SetSourceAlive(w.source.Name(), true)

	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.metrics.SetSourceAlive(w.source.Name(), false)
	defer func() {
		if r := recover(); r != nil {
			err := errors.Panic(r, "SourceWorker", "run")
			w.setError(err)
			w.state.Store(int32(component.StateFailed))
			w.logger.Error("Source worker crashed", "error", err)
		}
	}()

	consecutive := 0
	for {
		if ctx.Err() != nil {
			w.state.Store(int32(component.StateStopped))
			return
		}

		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				w.state.Store(int32(component.StateStopped))
				return
			}
		}

		payload, err := w.source.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.state.Store(int32(component.StateStopped))
				return
			}

			if stderrors.Is(err, errors.ErrNoSample) {
				continue
			}

			consecutive++
			w.failures.Add(1)
			fault := errors.StageFault(err, "SourceWorker", "run", "acquire")
			w.setError(fault)
			w.metrics.RecordAcquireFailure(w.source.Name())
			w.logger.Debug("Acquisition failed", "error", err, "consecutive", consecutive)

			if consecutive > w.threshold {
				w.state.Store(int32(component.StateFailed))
				w.logger.Warn("Source worker giving up after consecutive failures",
					"failures", consecutive, "error", err)
				return
			}
			continue
		}

		if consecutive > 0 {
			w.lastError.Store(nil)
			consecutive = 0
		}
		w.mailbox.Set(payload)
		w.samples.Add(1)
		w.lastShot.Store(time.Now().UnixNano())
		w.metrics.RecordSample(w.source.Name())
	}
}

func (w *Worker) setError(err error) {
	w.lastError.Store(&errorBox{err: err})
}

// Alive reports whether the loop is still executing.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return w.State() != component.StateCreated
	}
}

// Done is closed when the loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns the worker lifecycle state.
func (w *Worker) State() component.State {
	return component.State(w.state.Load())
}

// Generation is 1 for the first worker of a source and increases with each
// respawn.
func (w *Worker) Generation() int {
	return w.generation
}

// stop signals the loop to exit at its next check.
func (w *Worker) stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
}

// LastError returns the most recent acquisition error or crash.
func (w *Worker) LastError() error {
	if b := w.lastError.Load(); b != nil {
		return b.err
	}
	return nil
}

func (w *Worker) report() health.WorkerReport {
	var last time.Time
	if ns := w.lastShot.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return health.WorkerReport{
		Alive:      w.Alive(),
		Started:    w.started,
		LastError:  w.LastError(),
		ErrorCount: w.failures.Load(),
		Processed:  w.samples.Load(),
		LastActive: last,
	}
}

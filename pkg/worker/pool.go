// Package worker provides a bounded generic worker pool. The controller uses
// it to run action dispatches off its polling loop.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/watchpost/metric"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// Pool runs processor for each submitted item on a fixed set of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onError   func(T, error)

	workChan chan T
	metrics  *poolMetrics
	wg       sync.WaitGroup
	busy     atomic.Int64

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	metricsRegistry metric.Registrar
	metricsPrefix   string
}

type poolMetrics struct {
	queueDepth     prometheus.Gauge
	busy           prometheus.Gauge
	outcomes       *prometheus.CounterVec
	processingTime prometheus.Histogram
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry registers pool metrics named prefix_* with registry.
func WithMetricsRegistry[T any](registry metric.Registrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// WithErrorHandler is called with the item and error for every failed or
// panicking processor call.
func WithErrorHandler[T any](fn func(T, error)) Option[T] {
	return func(p *Pool[T]) {
		p.onError = fn
	}
}

// NewPool creates a pool. Non-positive sizes fall back to defaults; a nil
// processor panics.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() {
	prefix := p.metricsPrefix

	m := &poolMetrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_queue_depth",
			Help: "Items waiting in the pool queue",
		}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "_busy_workers",
			Help: "Workers currently running an item",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_items_total",
			Help: "Pool items by outcome",
		}, []string{"outcome"}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "_processing_duration_seconds",
			Help:    "Time spent processing one item",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
	}

	// Registration failures leave the pool usable with metrics attached to
	// nothing; the collectors still count.
	_ = p.metricsRegistry.Register("worker_pool", prefix+"_queue_depth", m.queueDepth)
	_ = p.metricsRegistry.Register("worker_pool", prefix+"_busy_workers", m.busy)
	_ = p.metricsRegistry.Register("worker_pool", prefix+"_items_total", m.outcomes)
	_ = p.metricsRegistry.Register("worker_pool", prefix+"_processing_duration_seconds", m.processingTime)

	p.metrics = m
}

// Submit enqueues work without blocking. It returns ErrQueueFull when the
// queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		if p.metrics != nil {
			p.metrics.outcomes.WithLabelValues("submitted").Inc()
			p.metrics.queueDepth.Set(float64(len(p.workChan)))
		}
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.outcomes.WithLabelValues("dropped").Inc()
		}
		return ErrQueueFull
	}
}

// Start launches the workers. ctx is passed to every processor call.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	p.started = true
	return nil
}

// Stop closes the queue and waits up to timeout for queued work to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Busy:       int(p.busy.Load()),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Busy       int   `json:"busy"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.run(ctx, work)
		}
	}
}

func (p *Pool[T]) run(ctx context.Context, work T) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.busy.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}

	start := time.Now()
	err := p.safeProcess(ctx, work)

	p.busy.Add(-1)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
		if p.onError != nil {
			p.onError(work, err)
		}
	}

	if p.metrics != nil {
		p.metrics.busy.Dec()
		p.metrics.processingTime.Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		p.metrics.outcomes.WithLabelValues(outcome).Inc()
	}
}

func (p *Pool[T]) safeProcess(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrProcessorPanic, r)
		}
	}()
	return p.processor(ctx, work)
}

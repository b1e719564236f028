package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "watchpost"

// Cycle outcomes recorded by pipeline workers.
const (
	OutcomeAlert        = "alert"
	OutcomeShortCircuit = "short_circuit"
	OutcomeFault        = "fault"
	OutcomeIdle         = "idle"
	OutcomeStale        = "stale"
)

// Dispatch statuses recorded by the controller.
const (
	DispatchSuccess = "success"
	DispatchError   = "error"
	DispatchDropped = "dropped"
)

// Metrics contains the runtime metrics shared by all workers. Every Record
// method is a no-op on a nil receiver so workers built without a registry
// need no guards.
type Metrics struct {
	SamplesAcquired *prometheus.CounterVec
	AcquireFailures *prometheus.CounterVec
	SourceRestarts  *prometheus.CounterVec
	SourceAlive     *prometheus.GaugeVec

	PipelineCycles *prometheus.CounterVec
	StageFaults    *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	EventsEmitted  *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	EventsDrained prometheus.Counter
	Decisions     *prometheus.CounterVec
	QueryFaults   prometheus.Counter
	Dispatches    *prometheus.CounterVec
}

// NewMetrics creates the runtime metrics without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		SamplesAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "samples_total",
			Help:      "Samples acquired and published to the mailbox",
		}, []string{"source"}),
		AcquireFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "acquire_failures_total",
			Help:      "Failed acquisition attempts",
		}, []string{"source"}),
		SourceRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "restarts_total",
			Help:      "Source workers respawned by the supervisor",
		}, []string{"source"}),
		SourceAlive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "alive",
			Help:      "Source worker liveness (1=alive, 0=dead)",
		}, []string{"source"}),

		PipelineCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycles_total",
			Help:      "Pipeline cycles by outcome",
		}, []string{"pipeline", "outcome"}),
		StageFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_faults_total",
			Help:      "Stage errors and panics caught at the cycle boundary",
		}, []string{"pipeline", "stage"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent inside a single stage call",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"pipeline", "stage"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_total",
			Help:      "Alert events handed to the controller",
		}, []string{"pipeline"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Alert events dropped because the event channel was full",
		}, []string{"pipeline"}),

		EventsDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "events_drained_total",
			Help:      "Events drained from the event channel",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "decisions_total",
			Help:      "Query evaluations by result",
		}, []string{"result"}),
		QueryFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "query_faults_total",
			Help:      "Queries that failed to parse after substitution",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "dispatches_total",
			Help:      "Action dispatches by status",
		}, []string{"action", "status"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SamplesAcquired, m.AcquireFailures, m.SourceRestarts, m.SourceAlive,
		m.PipelineCycles, m.StageFaults, m.StageDuration, m.EventsEmitted, m.EventsDropped,
		m.EventsDrained, m.Decisions, m.QueryFaults, m.Dispatches,
	}
}

// RecordSample counts a sample published by source.
func (m *Metrics) RecordSample(source string) {
	if m == nil {
		return
	}
	m.SamplesAcquired.WithLabelValues(source).Inc()
}

// RecordAcquireFailure counts a failed acquisition.
func (m *Metrics) RecordAcquireFailure(source string) {
	if m == nil {
		return
	}
	m.AcquireFailures.WithLabelValues(source).Inc()
}

// RecordRestart counts a respawned source worker.
func (m *Metrics) RecordRestart(source string) {
	if m == nil {
		return
	}
	m.SourceRestarts.WithLabelValues(source).Inc()
}

// SetSourceAlive records source worker liveness.
func (m *Metrics) SetSourceAlive(source string, alive bool) {
	if m == nil {
		return
	}
	v := 0.0
	if alive {
		v = 1
	}
	m.SourceAlive.WithLabelValues(source).Set(v)
}

// RecordCycle counts a pipeline cycle with its outcome.
func (m *Metrics) RecordCycle(pipeline, outcome string) {
	if m == nil {
		return
	}
	m.PipelineCycles.WithLabelValues(pipeline, outcome).Inc()
}

// RecordStageFault counts a caught stage error or panic.
func (m *Metrics) RecordStageFault(pipeline, stage string) {
	if m == nil {
		return
	}
	m.StageFaults.WithLabelValues(pipeline, stage).Inc()
}

// ObserveStage records the duration of one stage call.
func (m *Metrics) ObserveStage(pipeline, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
}

// RecordEvent counts an event emitted by pipeline.
func (m *Metrics) RecordEvent(pipeline string) {
	if m == nil {
		return
	}
	m.EventsEmitted.WithLabelValues(pipeline).Inc()
}

// RecordEventDropped counts an event lost to a full channel.
func (m *Metrics) RecordEventDropped(pipeline string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(pipeline).Inc()
}

// RecordDrained counts events drained in one controller cycle.
func (m *Metrics) RecordDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsDrained.Add(float64(n))
}

// RecordDecision counts a query evaluation result.
func (m *Metrics) RecordDecision(result bool) {
	if m == nil {
		return
	}
	label := "false"
	if result {
		label = "true"
	}
	m.Decisions.WithLabelValues(label).Inc()
}

// RecordQueryFault counts a malformed query.
func (m *Metrics) RecordQueryFault() {
	if m == nil {
		return
	}
	m.QueryFaults.Inc()
}

// RecordDispatch counts an action dispatch with its status.
func (m *Metrics) RecordDispatch(action, status string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(action, status).Inc()
}

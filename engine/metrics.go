package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/watchpost/metric"
)

// engineMetrics holds Prometheus metrics for engine lifecycle operations.
type engineMetrics struct {
	starts *prometheus.CounterVec // by status
	stops  *prometheus.CounterVec // by status

	stopDuration prometheus.Histogram

	invalidPipelines prometheus.Gauge
	abandonedSources prometheus.Counter
	running          prometheus.Gauge
}

// newEngineMetrics creates and registers engine metrics. A nil registry
// disables them.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Total number of engine start attempts",
		}, []string{"status"}),

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Total number of engine stops",
		}, []string{"status"}),

		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "stop_duration_seconds",
			Help:      "Engine shutdown duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}),

		invalidPipelines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "invalid_pipelines",
			Help:      "Number of configured pipelines disabled by validation",
		}),

		abandonedSources: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "abandoned_sources_total",
			Help:      "Source workers still running when the shutdown grace expired",
		}),

		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "watchpost",
			Subsystem: "engine",
			Name:      "running",
			Help:      "1 while the engine is running",
		}),
	}

	collectors := map[string]prometheus.Collector{
		"starts":            m.starts,
		"stops":             m.stops,
		"stop_duration":     m.stopDuration,
		"invalid_pipelines": m.invalidPipelines,
		"abandoned_sources": m.abandonedSources,
		"running":           m.running,
	}
	for name, c := range collectors {
		if err := registry.Register("engine", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *engineMetrics) recordStart(err error) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(statusLabel(err)).Inc()
	if err == nil {
		m.running.Set(1)
	}
}

func (m *engineMetrics) recordStop(err error, seconds float64, abandoned int) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(statusLabel(err)).Inc()
	m.stopDuration.Observe(seconds)
	m.abandonedSources.Add(float64(abandoned))
	m.running.Set(0)
}

func (m *engineMetrics) setInvalid(n int) {
	if m == nil {
		return
	}
	m.invalidPipelines.Set(float64(n))
}

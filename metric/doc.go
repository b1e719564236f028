// Package metric provides the Prometheus registry, runtime metrics and the
// HTTP server that exposes them.
//
// A MetricsRegistry wraps a private prometheus.Registry with the core
// watchpost metrics (source samples and restarts, pipeline cycles and stage
// faults, controller decisions and dispatches) plus the Go and process
// collectors. Extra collectors, such as the dispatch pool's, are added with
// Register under a service.metric key.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordSample("camera")
//
//	server := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithStatusHandler(statusHandler))
//	go server.Start()
//	defer server.Stop(ctx)
//
// The server exposes /metrics, /health and, when configured, /status.
package metric

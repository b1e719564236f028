// Package health provides thread-safe health tracking for watchpost workers.
//
// Each source, pipeline and controller worker reports into a shared Monitor.
// The monitor aggregates them with three levels: healthy, degraded (running
// but faulting), unhealthy (not running). The aggregate is exposed over HTTP
// by Monitor.Handler and mounted at /health by the metrics server.
//
//	monitor := health.NewMonitor()
//	monitor.Update("source/camera", health.FromWorker("source/camera", report))
//	status := monitor.AggregateHealth("watchpost")
package health

package metric

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/watchpost/errors"
)

// ServerOption configures optional endpoints on the metrics server.
type ServerOption func(*Server)

// WithHealthHandler replaces the default /health responder.
func WithHealthHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithStatusHandler mounts h at /status.
func WithStatusHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.status = h }
}

// WithHandler mounts h at pattern, using http.ServeMux pattern syntax.
func WithHandler(pattern string, h http.Handler) ServerOption {
	return func(s *Server) {
		s.extra = append(s.extra, route{pattern: pattern, handler: h})
	}
}

type route struct {
	pattern string
	handler http.Handler
}

// Server represents the metrics HTTP server
type Server struct {
	port     int
	path     string
	registry *MetricsRegistry
	health   http.Handler
	status   http.Handler
	extra    []route

	server *http.Server
	mu     sync.Mutex
}

// NewServer creates a new metrics server with the provided registry
func NewServer(port int, path string, registry *MetricsRegistry, opts ...ServerOption) *Server {
	if path == "" {
		path = "/metrics"
	}
	if port == 0 {
		port = 9090
	}

	s := &Server{
		port:     port,
		path:     path,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the mux served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	if s.health != nil {
		mux.Handle("/health", s.health)
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}

	if s.status != nil {
		mux.Handle("/status", s.status)
	}

	for _, r := range s.extra {
		mux.Handle(r.pattern, r.handler)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>watchpost</title></head>
<body>
<h1>watchpost</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
<p><a href="/status">Status</a></p>
</body>
</html>`, s.path)
	})

	return mux
}

// Start serves until Stop is called. It returns nil after a clean Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on port %d", s.port))
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	if err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the metrics URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost:%d%s", s.port, s.path)
}

package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
)

const (
	defaultBufferSize = 65536
	socketBufferSize  = 2 * 1024 * 1024
)

// Metrics holds Prometheus metrics for one UDP source.
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	socketErrors    prometheus.Counter
}

// newMetrics creates and registers metrics; nil registry means no metrics.
func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}

	labels := prometheus.Labels{"source": name}
	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "watchpost",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP packets received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "watchpost",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received from UDP",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "watchpost",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Socket read errors",
			ConstLabels: labels,
		}),
	}

	service := "udp." + name
	_ = registry.Register(service, "packets_received", m.packetsReceived)
	_ = registry.Register(service, "bytes_received", m.bytesReceived)
	_ = registry.Register(service, "socket_errors", m.socketErrors)
	return m
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.socketErrors.Inc()
}

// Config holds UDP source parameters.
type Config struct {
	Bind string `json:"bind"`
	// Port 0 binds an ephemeral port.
	Port       int    `json:"port"`
	BufferSize int    `json:"buffer_size"`
	Domain     string `json:"domain"`
	// ReadDeadline bounds each socket read so cancellation is noticed.
	ReadDeadline string `json:"read_deadline"`

	domain   component.Domain
	deadline time.Duration
}

// DefaultConfig returns a config listening on all interfaces.
func DefaultConfig() Config {
	return Config{
		Bind:         "0.0.0.0",
		BufferSize:   defaultBufferSize,
		Domain:       string(component.DomainData),
		ReadDeadline: "100ms",
	}
}

// Validate checks the parameters.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Bind != "" && net.ParseIP(c.Bind) == nil {
		return fmt.Errorf("bind address %q is not an IP", c.Bind)
	}
	if c.BufferSize <= 0 || c.BufferSize > defaultBufferSize {
		return fmt.Errorf("buffer_size must be between 1 and %d, got %d", defaultBufferSize, c.BufferSize)
	}
	d, err := component.ParseDomain(c.Domain)
	if err != nil {
		return err
	}
	c.domain = d
	deadline, err := time.ParseDuration(c.ReadDeadline)
	if err != nil {
		return fmt.Errorf("invalid read_deadline: %w", err)
	}
	if deadline <= 0 {
		return fmt.Errorf("read_deadline must be positive")
	}
	c.deadline = deadline
	return nil
}

// Source reads datagrams from a bound UDP socket.
type Source struct {
	name    string
	config  Config
	logger  *slog.Logger
	metrics *Metrics

	mu   sync.Mutex
	conn *net.UDPConn

	// readMu serialises Acquire calls over the shared buffer.
	readMu sync.Mutex
	buffer []byte
}

// New creates an unbound UDP source.
func New(name string, config Config, deps component.Dependencies) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "UDPSource", "New", "config validation")
	}
	return &Source{
		name:    name,
		config:  config,
		logger:  deps.GetLoggerWithComponent(component.KindSource, name),
		metrics: newMetrics(deps.MetricsRegistry, name),
		buffer:  make([]byte, config.BufferSize),
	}, nil
}

// NewSource is the registry factory.
func NewSource(name string, params json.RawMessage, deps component.Dependencies) (component.Source, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "UDPSource", "NewSource", "decode params")
	}
	return New(name, cfg, deps)
}

// Name implements component.Source.
func (s *Source) Name() string { return s.name }

// Domain implements component.Source.
func (s *Source) Domain() component.Domain { return s.config.domain }

// Open binds the socket.
func (s *Source) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "UDPSource", "Open", "bind socket")
	}

	addr := &net.UDPAddr{IP: net.ParseIP(s.config.Bind), Port: s.config.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.WrapFatal(err, "UDPSource", "Open", fmt.Sprintf("listen on %s", addr))
	}

	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		s.logger.Warn("Could not set UDP buffer size", "buffer_size", socketBufferSize, "error", err)
	}

	s.conn = conn
	s.logger.Info("UDP source listening", "address", conn.LocalAddr().String())
	return nil
}

// Addr returns the bound address, or nil before Open.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Acquire returns the next datagram. Reads are cut into short deadlines so
// that a cancelled ctx ends the call promptly.
func (s *Source) Acquire(ctx context.Context) (any, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil, errors.WrapFatal(errors.ErrNotStarted, "UDPSource", "Acquire", "read datagram")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.config.deadline))
		n, from, err := conn.ReadFromUDP(s.buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			s.metrics.failed()
			return nil, errors.WrapTransient(err, "UDPSource", "Acquire", "read datagram")
		}

		s.metrics.received(n)
		data := make([]byte, n)
		copy(data, s.buffer[:n])
		return &message.Datagram{Origin: from.String(), Data: data}, nil
	}
}

// Close releases the socket.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return errors.Wrap(err, "UDPSource", "Close", "close socket")
}

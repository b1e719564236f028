// Package websocket provides an action that serves a websocket endpoint and
// broadcasts every dispatched batch to the connected clients.
//
// Clients receive one text frame per batch holding a message.Notification
// as JSON. Anything clients send is read and discarded; a read error or a
// failed write drops the client.
package websocket

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
	"github.com/c360/watchpost/metric"
	"github.com/c360/watchpost/pkg/tlsutil"
)

// Config holds the listener parameters.
type Config struct {
	Bind string `json:"bind"`
	// Port 0 binds an ephemeral port.
	Port         int    `json:"port"`
	Path         string `json:"path"`
	WriteTimeout string `json:"write_timeout"`

	// TLS serves wss:// when enabled.
	TLS tlsutil.ServerConfig `json:"tls"`

	writeTimeout time.Duration
}

// DefaultConfig serves /alerts on port 8082.
func DefaultConfig() Config {
	return Config{
		Bind:         "0.0.0.0",
		Port:         8082,
		Path:         "/alerts",
		WriteTimeout: "5s",
	}
}

// Validate checks the listener parameters.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("path must start with /")
	}
	d, err := time.ParseDuration(c.WriteTimeout)
	if err != nil {
		return fmt.Errorf("invalid write_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid tls: %w", err)
	}
	c.writeTimeout = d
	return nil
}

// Metrics holds Prometheus metrics for the websocket action.
type Metrics struct {
	clientsConnected prometheus.Gauge
	messagesSent     prometheus.Counter
	sendErrors       prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string) *Metrics {
	if registry == nil {
		return nil
	}
	labels := prometheus.Labels{"action": name}
	m := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "watchpost",
			Subsystem:   "websocket",
			Name:        "clients_connected",
			Help:        "Number of currently connected clients",
			ConstLabels: labels,
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "watchpost",
			Subsystem:   "websocket",
			Name:        "messages_sent_total",
			Help:        "Total messages sent to clients",
			ConstLabels: labels,
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "watchpost",
			Subsystem:   "websocket",
			Name:        "send_errors_total",
			Help:        "Failed writes to clients",
			ConstLabels: labels,
		}),
	}
	service := "websocket." + name
	_ = registry.Register(service, "clients_connected", m.clientsConnected)
	_ = registry.Register(service, "messages_sent", m.messagesSent)
	_ = registry.Register(service, "send_errors", m.sendErrors)
	return m
}

type client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}

// Action is a broadcasting websocket server.
type Action struct {
	name     string
	config   Config
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	lifecycleMu sync.Mutex
	server      *http.Server
	listener    net.Listener
	wg          sync.WaitGroup

	clientsMu sync.RWMutex
	clients   map[*client]struct{}

	sent atomic.Int64
}

// New creates the action; the listener starts in Open.
func New(name string, config Config, deps component.Dependencies) (*Action, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "WebSocketAction", "New", "config validation")
	}
	return &Action{
		name:    name,
		config:  config,
		logger:  deps.GetLoggerWithComponent(component.KindAction, name),
		metrics: newMetrics(deps.MetricsRegistry, name),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "WebSocketAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps)
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Open binds the listener and starts serving.
func (a *Action) Open(_ context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "WebSocketAction", "Open", "start server")
	}

	tlsConfig, err := tlsutil.LoadServerConfig(a.config.TLS)
	if err != nil {
		return errors.Wrap(err, "WebSocketAction", "Open", "load tls config")
	}

	addr := net.JoinHostPort(a.config.Bind, fmt.Sprintf("%d", a.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "WebSocketAction", "Open", fmt.Sprintf("listen on %s", addr))
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a.config.Path, a.handleWebSocket)
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.listener = ln

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Websocket server stopped", "error", err)
		}
	}()

	a.logger.Info("Websocket alert feed listening",
		"address", ln.Addr().String(), "path", a.config.Path, "tls", tlsConfig != nil)
	return nil
}

// Addr returns the listener address, or nil before Open.
func (a *Action) Addr() net.Addr {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *Action) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	a.clientsMu.Lock()
	a.clients[c] = struct{}{}
	count := len(a.clients)
	a.clientsMu.Unlock()
	a.setClientGauge(count)

	a.wg.Add(1)
	go a.readLoop(c)
}

// readLoop discards client frames until the connection fails.
func (a *Action) readLoop(c *client) {
	defer a.wg.Done()
	defer a.removeClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (a *Action) removeClient(c *client) {
	a.clientsMu.Lock()
	_, ok := a.clients[c]
	delete(a.clients, c)
	count := len(a.clients)
	a.clientsMu.Unlock()
	c.close()
	if ok {
		a.setClientGauge(count)
	}
}

func (a *Action) setClientGauge(n int) {
	if a.metrics != nil {
		a.metrics.clientsConnected.Set(float64(n))
	}
}

// Clients returns the number of connected clients.
func (a *Action) Clients() int {
	a.clientsMu.RLock()
	defer a.clientsMu.RUnlock()
	return len(a.clients)
}

// Notify broadcasts the batch. Having no clients is not an error.
func (a *Action) Notify(_ context.Context, batch []any) error {
	data, err := message.NewNotification(a.name, batch).Marshal()
	if err != nil {
		return errors.WrapInvalid(err, "WebSocketAction", "Notify", "encode batch")
	}

	a.clientsMu.RLock()
	snapshot := make([]*client, 0, len(a.clients))
	for c := range a.clients {
		snapshot = append(snapshot, c)
	}
	a.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range snapshot {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := a.write(c, data); err != nil {
				if a.metrics != nil {
					a.metrics.sendErrors.Inc()
				}
				a.logger.Debug("Dropping websocket client", "error", err)
				a.removeClient(c)
				return
			}
			a.sent.Add(1)
			if a.metrics != nil {
				a.metrics.messagesSent.Inc()
			}
		}(c)
	}
	wg.Wait()
	return nil
}

func (a *Action) write(c *client, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(a.config.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Sent returns the number of frames delivered across all clients.
func (a *Action) Sent() int64 { return a.sent.Load() }

// Close stops the server and disconnects every client.
func (a *Action) Close() error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.server.Shutdown(ctx)

	a.clientsMu.Lock()
	for c := range a.clients {
		c.close()
	}
	a.clients = make(map[*client]struct{})
	a.clientsMu.Unlock()
	a.setClientGauge(0)

	a.wg.Wait()
	a.server = nil
	a.listener = nil
	return errors.Wrap(err, "WebSocketAction", "Close", "shutdown server")
}

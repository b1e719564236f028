package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrClosed       = stderrors.New("client closed")
)

// Status holds runtime status information for the client
type Status struct {
	Status     ConnectionStatus `json:"status"`
	URL        string           `json:"url"`
	Attempts   int32            `json:"connect_attempts"`
	Reconnects int32            `json:"reconnects"`
	RTT        time.Duration    `json:"rtt,omitempty"`
}

// Client owns one NATS connection and implements component.Messenger.
type Client struct {
	url    string
	status atomic.Int32
	logger *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream
	subs []*nats.Subscription

	attempts   atomic.Int32
	reconnects atomic.Int32

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	retry         retry.Config

	// Authentication - cleared on close
	username string
	password string
	token    string

	clientName string

	onDisconnect func(error)
	onReconnect  func()

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

var (
	_ component.Messenger       = (*Client)(nil)
	_ component.StreamPublisher = (*Client)(nil)
)

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "validate url")
	}

	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		retry:         retry.DefaultConfig(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient")
	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	return ConnectionStatus(m.status.Load())
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(int32(status))
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// buildConnectionOptions builds NATS connection options from client configuration
func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	return opts
}

// Connect dials the server, retrying with exponential backoff until it
// succeeds, the attempts run out or ctx is done.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Connect", "check state")
	}
	if m.IsHealthy() {
		return nil
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.buildConnectionOptions()
	conn, err := retry.DoWithResult(ctx, m.retry, func() (*nats.Conn, error) {
		attempt := m.attempts.Add(1)
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			m.logger.Debug("NATS connection attempt failed", "attempt", attempt, "error", err)
			if stderrors.Is(err, nats.ErrAuthorization) {
				return nil, retry.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		// Core pub/sub still works; stream calls will report it.
		m.logger.Warn("JetStream context unavailable", "error", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.js = js
	m.mu.Unlock()
	m.setStatus(StatusConnected)
	m.logger.Info("Connected to NATS", "url", m.url, "attempts", m.attempts.Load())
	return nil
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait")
		case <-ticker.C:
		}
	}
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(ErrNotConnected, "Client", "Publish", "publish "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// JetStream returns the JetStream context of the current connection.
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// EnsureStream creates the named stream or updates its subjects.
func (m *Client) EnsureStream(ctx context.Context, name string, subjects []string) error {
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: subjects,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+name)
	}
	return nil
}

// PublishToStream publishes to a subject bound to a stream and waits for the
// server acknowledgement.
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish "+subject)
	}
	return nil
}

type subscription struct {
	client *Client
	sub    *nats.Subscription
}

// Unsubscribe removes the subscription from the server and the client.
func (s *subscription) Unsubscribe() error {
	s.client.mu.Lock()
	for i, sub := range s.client.subs {
		if sub == s.sub {
			s.client.subs = append(s.client.subs[:i], s.client.subs[i+1:]...)
			break
		}
	}
	s.client.mu.Unlock()

	if err := s.sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) &&
		!stderrors.Is(err, nats.ErrBadSubscription) {
		return errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+s.sub.Subject)
	}
	return nil
}

// Subscribe registers handler for subject. Each message handler receives a
// context derived from ctx with a 30-second timeout.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (component.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "Subscribe", "subscribe "+subject)
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Subscribe", "subscribe "+subject)
	}

	m.subs = append(m.subs, sub)
	return &subscription{client: m, sub: sub}, nil
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// GetStatus returns current status information
func (m *Client) GetStatus() Status {
	s := Status{
		Status:     m.Status(),
		URL:        m.url,
		Attempts:   m.attempts.Load(),
		Reconnects: m.reconnects.Load(),
	}
	if rtt, err := m.RTT(); err == nil {
		s.RTT = rtt
	}
	return s
}

// Close unsubscribes everything and drains the connection, bounded by the
// drain timeout or the ctx deadline, whichever is sooner.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Swap(true) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	m.subs = nil

	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := m.conn
		go func() { drainDone <- conn.Drain() }()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(errors.ErrConnectionTimeout, "Client", "Close", "drain"))
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "drain"))
		}

		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""
	m.setStatus(StatusClosed)

	return stderrors.Join(errs...)
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)
	if m.onDisconnect != nil {
		go m.onDisconnect(err)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.reconnects.Add(1)
	m.logger.Info("NATS reconnected", "url", m.url)
	if m.onReconnect != nil {
		go m.onReconnect()
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	if m.closed.Load() {
		m.setStatus(StatusClosed)
		return
	}
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Error("NATS error", "error", err)
}

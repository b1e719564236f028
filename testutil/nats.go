package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360/watchpost/component"
)

type subscriber struct {
	id      int
	subject string
	handler func(context.Context, []byte)
}

// MockNATSClient is an in-memory component.Messenger and
// component.StreamPublisher. Subscribers are called synchronously from
// Publish. Subjects support the NATS "*" and ">" wildcards. Thread-safe for
// concurrent use.
type MockNATSClient struct {
	mu          sync.RWMutex
	messages    map[string][][]byte
	streams     map[string][]string
	stored      map[string]int
	subscribers []subscriber
	nextID      int
	closed      bool
	publishErr  error
}

var (
	_ component.Messenger       = (*MockNATSClient)(nil)
	_ component.StreamPublisher = (*MockNATSClient)(nil)
)

// NewMockNATSClient creates a new mock NATS client.
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string][][]byte),
		streams:  make(map[string][]string),
		stored:   make(map[string]int),
	}
}

// EnsureStream records a stream and its subjects, replacing earlier ones.
func (c *MockNATSClient) EnsureStream(ctx context.Context, name string, subjects []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	c.streams[name] = append([]string(nil), subjects...)
	return nil
}

// PublishToStream fails when no stream captures subject, like a broker
// without a matching stream. Otherwise it counts the message against the
// stream and delivers it like Publish.
func (c *MockNATSClient) PublishToStream(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	stream := ""
	for name, subjects := range c.streams {
		for _, pattern := range subjects {
			if subjectMatches(pattern, subject) {
				stream = name
			}
		}
	}
	if stream == "" {
		c.mu.Unlock()
		return fmt.Errorf("nats: no response from stream")
	}
	c.stored[stream]++
	c.mu.Unlock()

	return c.Publish(ctx, subject, data)
}

// StreamMessages returns how many messages a stream has accepted.
func (c *MockNATSClient) StreamMessages(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stored[name]
}

// FailPublish makes every later Publish return err; nil restores success.
func (c *MockNATSClient) FailPublish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishErr = err
}

// Publish records data and hands it to matching subscribers.
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.publishErr != nil {
		err := c.publishErr
		c.mu.Unlock()
		return err
	}

	c.messages[subject] = append(c.messages[subject], data)

	// Handlers run outside the lock so they may publish.
	var handlers []func(context.Context, []byte)
	for _, s := range c.subscribers {
		if subjectMatches(s.subject, subject) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, data)
	}
	return nil
}

// Subscribe registers handler for subject.
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (component.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	c.nextID++
	c.subscribers = append(c.subscribers, subscriber{id: c.nextID, subject: subject, handler: handler})
	return &mockSubscription{client: c, id: c.nextID}, nil
}

type mockSubscription struct {
	client *MockNATSClient
	id     int
}

func (s *mockSubscription) Unsubscribe() error {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subscribers {
		if sub.id == s.id {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			return nil
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (c *MockNATSClient) Subscribers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscribers)
}

// GetMessages returns a copy of the messages published on subject.
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := c.messages[subject]
	if msgs == nil {
		return nil
	}
	result := make([][]byte, len(msgs))
	copy(result, msgs)
	return result
}

// GetMessageCount returns the number of messages on a subject.
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Close closes the mock client.
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subscribers = nil
	return nil
}

// subjectMatches applies NATS token wildcards.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}

// WaitForMessage waits for a message on subject and returns the latest one.
func WaitForMessage(t *testing.T, client *MockNATSClient, subject string, timeout time.Duration) []byte {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if messages := client.GetMessages(subject); len(messages) > 0 {
			return messages[len(messages)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for message on subject %s", subject)
	return nil
}

// WaitForMessageCount waits for at least count messages on subject.
func WaitForMessageCount(t *testing.T, client *MockNATSClient, subject string, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.GetMessageCount(subject) >= count {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d messages on subject %s (got %d)",
		count, subject, client.GetMessageCount(subject))
}

// AssertNoMessages checks that nothing was published on subject.
func AssertNoMessages(t *testing.T, client *MockNATSClient, subject string) {
	t.Helper()

	if n := client.GetMessageCount(subject); n > 0 {
		t.Fatalf("expected no messages on subject %s, got %d", subject, n)
	}
}

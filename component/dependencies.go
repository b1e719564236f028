package component

import (
	"context"
	"log/slog"

	"github.com/c360/watchpost/metric"
)

// Subscription is a handle to an active broker subscription.
type Subscription interface {
	Unsubscribe() error
}

// Messenger is the broker surface plugins may use. natsclient.Client
// implements it.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) (Subscription, error)
}

// StreamPublisher is implemented by messengers that can persist messages in
// a broker-side stream and wait for the acknowledgement.
type StreamPublisher interface {
	EnsureStream(ctx context.Context, name string, subjects []string) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Dependencies are handed to every plugin factory. Any field may be nil.
type Dependencies struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Messenger       Messenger
}

// GetLogger returns the configured logger or slog.Default().
func (d Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger tagged with the plugin kind and name.
func (d Dependencies) GetLoggerWithComponent(kind Kind, name string) *slog.Logger {
	return d.GetLogger().With("component", kind.String(), "name", name)
}

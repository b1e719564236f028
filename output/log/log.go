// Package log provides an action that writes one structured log line per
// dispatched batch.
package log

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
)

// Config holds the log action parameters.
type Config struct {
	// Level is debug, info, warn or error.
	Level string `json:"level"`
	// Message is the log message text.
	Message string `json:"message"`
}

// DefaultConfig logs at warn level.
func DefaultConfig() Config {
	return Config{Level: "warn", Message: "Alert raised"}
}

// Validate checks the level.
func (c *Config) Validate() error {
	_, err := parseLevel(c.Level)
	return err
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

// Action logs batches.
type Action struct {
	name    string
	level   slog.Level
	message string
	logger  *slog.Logger
}

// New creates a log action.
func New(name string, config Config, logger *slog.Logger) (*Action, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, errors.WrapInvalid(err, "LogAction", "New", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Action{name: name, level: level, message: config.Message, logger: logger}, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "LogAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps.GetLoggerWithComponent(component.KindAction, name))
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Notify writes the batch as a single record.
func (a *Action) Notify(ctx context.Context, batch []any) error {
	a.logger.Log(ctx, a.level, a.message, "count", len(batch), "alerts", batch)
	return nil
}

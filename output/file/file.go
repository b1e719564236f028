// Package file provides an action that appends each dispatched batch to a
// file as one JSON line.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Config holds the file action parameters.
type Config struct {
	Path string `json:"path"`
	// Sync forces an fsync after each line.
	Sync bool `json:"sync"`
}

// Validate checks the path.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// Action appends JSON lines. The file is opened lazily on first use, or by
// Open when the engine calls it at start.
type Action struct {
	name   string
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File

	written atomic.Int64
}

// New creates a file action.
func New(name string, config Config, logger *slog.Logger) (*Action, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "FileAction", "New", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.Path = filepath.Clean(config.Path)
	return &Action{name: name, config: config, logger: logger}, nil
}

// NewAction is the registry factory.
func NewAction(name string, params json.RawMessage, deps component.Dependencies) (component.Action, error) {
	var cfg Config
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "FileAction", "NewAction", "decode params")
	}
	return New(name, cfg, deps.GetLoggerWithComponent(component.KindAction, name))
}

// Name implements component.Action.
func (a *Action) Name() string { return a.name }

// Open creates the directory and opens the file for appending.
func (a *Action) Open(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openLocked()
}

func (a *Action) openLocked() error {
	if a.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.config.Path), 0755); err != nil {
		return errors.WrapFatal(err, "FileAction", "Open", "create output directory")
	}
	f, err := os.OpenFile(a.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.WrapFatal(err, "FileAction", "Open", "open output file")
	}
	a.file = f
	a.logger.Debug("Alert file opened", "path", a.config.Path)
	return nil
}

// Notify appends the batch.
func (a *Action) Notify(_ context.Context, batch []any) error {
	data, err := message.NewNotification(a.name, batch).Marshal()
	if err != nil {
		return errors.WrapInvalid(err, "FileAction", "Notify", "encode batch")
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.openLocked(); err != nil {
		return err
	}
	if _, err := a.file.Write(data); err != nil {
		return errors.WrapTransient(err, "FileAction", "Notify", "write line")
	}
	if a.config.Sync {
		if err := a.file.Sync(); err != nil {
			return errors.WrapTransient(err, "FileAction", "Notify", "sync file")
		}
	}
	a.written.Add(1)
	return nil
}

// Written returns the number of lines appended.
func (a *Action) Written() int64 { return a.written.Load() }

// Close closes the file.
func (a *Action) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return errors.Wrap(err, "FileAction", "Close", "close output file")
}

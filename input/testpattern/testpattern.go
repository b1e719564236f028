// Package testpattern provides a synthetic visual source that renders
// grayscale frames at a fixed interval.
package testpattern

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Pattern modes.
const (
	ModeBlank  = "blank"
	ModeNoise  = "noise"
	ModeSquare = "square"
)

// Config holds the parameters of a test pattern source.
type Config struct {
	Mode string `json:"mode"`
	// Width and Height of each frame in pixels.
	Width  int `json:"width"`
	Height int `json:"height"`
	// Interval between frames as a Go duration string.
	Interval string `json:"interval"`
	// Square is the side length of the moving square in square mode.
	Square int `json:"square"`
	// Level is the gray value of blank frames and of the square.
	Level int `json:"level"`

	interval time.Duration
}

// DefaultConfig returns a 64x48 square pattern at 10 frames per second.
func DefaultConfig() Config {
	return Config{
		Mode:     ModeSquare,
		Width:    64,
		Height:   48,
		Interval: "100ms",
		Square:   8,
		Level:    255,
	}
}

// Validate checks the configuration and resolves the interval.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeBlank, ModeNoise, ModeSquare:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("frame size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Width*c.Height > 4096*4096 {
		return fmt.Errorf("frame size %dx%d too large", c.Width, c.Height)
	}
	if c.Level < 0 || c.Level > 255 {
		return fmt.Errorf("level must be between 0 and 255, got %d", c.Level)
	}
	if c.Mode == ModeSquare && (c.Square <= 0 || c.Square > c.Width || c.Square > c.Height) {
		return fmt.Errorf("square size %d does not fit a %dx%d frame", c.Square, c.Width, c.Height)
	}
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("interval must not be negative")
	}
	c.interval = d
	return nil
}

// Source renders frames on demand. Acquire paces itself so that frames are
// produced no faster than the configured interval.
type Source struct {
	name   string
	config Config

	mu    sync.Mutex
	next  time.Time
	frame uint64
	rng   *rand.Rand
}

// New creates a test pattern source.
func New(name string, config Config) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "TestPattern", "New", "config validation")
	}
	return &Source{
		name:   name,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
	}, nil
}

// NewSource is the registry factory.
func NewSource(name string, params json.RawMessage, _ component.Dependencies) (component.Source, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "TestPattern", "NewSource", "decode params")
	}
	return New(name, cfg)
}

// Name implements component.Source.
func (s *Source) Name() string { return s.name }

// Domain implements component.Source.
func (s *Source) Domain() component.Domain { return component.DomainVisual }

// Acquire waits for the next frame slot and renders it.
func (s *Source) Acquire(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := time.Until(s.next); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	s.next = time.Now().Add(s.config.interval)

	frame := s.render(s.frame)
	s.frame++
	return frame, nil
}

func (s *Source) render(n uint64) *message.Frame {
	c := s.config
	f := message.NewFrame(c.Width, c.Height)

	switch c.Mode {
	case ModeBlank:
		for i := range f.Pix {
			f.Pix[i] = byte(c.Level)
		}
	case ModeNoise:
		for i := range f.Pix {
			f.Pix[i] = byte(s.rng.IntN(256))
		}
	case ModeSquare:
		// The square walks left to right and wraps; the row advances once per
		// full sweep.
		span := c.Width - c.Square + 1
		rows := c.Height - c.Square + 1
		x0 := int(n % uint64(span))
		y0 := int((n / uint64(span)) % uint64(rows))
		for y := y0; y < y0+c.Square; y++ {
			for x := x0; x < x0+c.Square; x++ {
				f.Set(x, y, byte(c.Level))
			}
		}
	}
	return f
}

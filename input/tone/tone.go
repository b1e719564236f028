// Package tone provides a synthetic audio source producing PCM clips.
package tone

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Signal modes.
const (
	ModeSilence = "silence"
	ModeTone    = "tone"
	ModeNoise   = "noise"
)

// Config holds the parameters of a tone source.
type Config struct {
	Mode       string  `json:"mode"`
	SampleRate int     `json:"sample_rate"`
	Frequency  float64 `json:"frequency"`
	// Amplitude is relative to full scale, 0..1.
	Amplitude float64 `json:"amplitude"`
	// Clip is the length of each clip as a Go duration string. Clips are
	// produced in real time: one per clip length.
	Clip string `json:"clip"`

	clip time.Duration
}

// DefaultConfig returns a 440 Hz tone at half scale in 250ms clips.
func DefaultConfig() Config {
	return Config{
		Mode:       ModeTone,
		SampleRate: 16000,
		Frequency:  440,
		Amplitude:  0.5,
		Clip:       "250ms",
	}
}

// Validate checks the configuration and resolves the clip length.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeSilence, ModeTone, ModeNoise:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.SampleRate <= 0 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 1 and 192000, got %d", c.SampleRate)
	}
	if c.Amplitude < 0 || c.Amplitude > 1 {
		return fmt.Errorf("amplitude must be between 0 and 1, got %v", c.Amplitude)
	}
	if c.Mode == ModeTone && (c.Frequency <= 0 || c.Frequency > float64(c.SampleRate)/2) {
		return fmt.Errorf("frequency %v must be positive and below Nyquist (%d)", c.Frequency, c.SampleRate/2)
	}
	d, err := time.ParseDuration(c.Clip)
	if err != nil {
		return fmt.Errorf("invalid clip length: %w", err)
	}
	if d <= 0 || d > time.Minute {
		return fmt.Errorf("clip length must be in (0, 1m], got %s", d)
	}
	c.clip = d
	return nil
}

// Source produces consecutive clips with a continuous phase.
type Source struct {
	name   string
	config Config

	mu    sync.Mutex
	next  time.Time
	phase float64
	rng   *rand.Rand
}

// New creates a tone source.
func New(name string, config Config) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Tone", "New", "config validation")
	}
	return &Source{
		name:   name,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x70e)),
	}, nil
}

// NewSource is the registry factory.
func NewSource(name string, params json.RawMessage, _ component.Dependencies) (component.Source, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Tone", "NewSource", "decode params")
	}
	return New(name, cfg)
}

// Name implements component.Source.
func (s *Source) Name() string { return s.name }

// Domain implements component.Source.
func (s *Source) Domain() component.Domain { return component.DomainAudio }

// Acquire blocks until the next clip is due and returns it.
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
	s.next = time.Now().Add(s.config.clip)
	return s.render(), nil
}

func (s *Source) render() *message.AudioClip {
	c := s.config
	n := int(int64(c.SampleRate) * int64(c.clip) / int64(time.Second))
	clip := &message.AudioClip{SampleRate: c.SampleRate, Samples: make([]int16, n)}
	peak := c.Amplitude * math.MaxInt16

	switch c.Mode {
	case ModeTone:
		step := 2 * math.Pi * c.Frequency / float64(c.SampleRate)
		for i := range clip.Samples {
			clip.Samples[i] = int16(peak * math.Sin(s.phase))
			s.phase = math.Mod(s.phase+step, 2*math.Pi)
		}
	case ModeNoise:
		for i := range clip.Samples {
			clip.Samples[i] = int16(peak * (2*s.rng.Float64() - 1))
		}
	}
	return clip
}

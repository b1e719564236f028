package tone

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/message"
)

func clipOf(t *testing.T, s *Source) *message.AudioClip {
	t.Helper()
	v, err := s.Acquire(context.Background())
	require.NoError(t, err)
	clip, ok := v.(*message.AudioClip)
	require.True(t, ok, "expected *message.AudioClip, got %T", v)
	return clip
}

func peak(samples []int16) int {
	p := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		p = max(p, v)
	}
	return p
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Mode = "chirp" }, "unknown mode"},
		{"amplitude", func(c *Config) { c.Amplitude = 2 }, "amplitude"},
		{"above nyquist", func(c *Config) { c.Frequency = 9000 }, "Nyquist"},
		{"silence ignores frequency", func(c *Config) { c.Mode = ModeSilence; c.Frequency = 0 }, ""},
		{"zero clip", func(c *Config) { c.Clip = "0s" }, "clip length"},
		{"sample rate", func(c *Config) { c.SampleRate = 0 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSource_Modes(t *testing.T) {
	for _, mode := range []string{ModeSilence, ModeTone, ModeNoise} {
		t.Run(mode, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			cfg.Clip = "10ms"
			s, err := New("mic", cfg)
			require.NoError(t, err)
			assert.Equal(t, component.DomainAudio, s.Domain())

			clip := clipOf(t, s)
			assert.Equal(t, 16000, clip.SampleRate)
			assert.Len(t, clip.Samples, 160)
			assert.Equal(t, 10*time.Millisecond, clip.Duration())

			if mode == ModeSilence {
				assert.Zero(t, peak(clip.Samples))
			} else {
				assert.Positive(t, peak(clip.Samples))
				assert.LessOrEqual(t, peak(clip.Samples), 16384)
			}
		})
	}
}

func TestNewSource_Params(t *testing.T) {
	src, err := NewSource("mic", json.RawMessage(`{"mode":"silence","clip":"20ms"}`), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "mic", src.Name())

	_, err = NewSource("mic", json.RawMessage(`{"mode":"tone","frequency":-1}`), component.Dependencies{})
	assert.Error(t, err)
}

// Package loudness provides an audio stage that gates clips on RMS level.
package loudness

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// silenceFloor is reported for an all-zero clip.
const silenceFloor = -120.0

// Config holds the gate threshold.
type Config struct {
	// ThresholdDB is the RMS level in dBFS at or above which the chain
	// continues.
	ThresholdDB float64 `json:"threshold_db"`
}

// DefaultConfig returns a -30 dBFS gate.
func DefaultConfig() Config {
	return Config{ThresholdDB: -30}
}

// Validate checks the threshold.
func (c *Config) Validate() error {
	if c.ThresholdDB > 0 || c.ThresholdDB < silenceFloor {
		return fmt.Errorf("threshold_db must be between %v and 0, got %v", silenceFloor, c.ThresholdDB)
	}
	return nil
}

// Level is attached as the alert payload when the gate opens.
type Level struct {
	RMSDB  float64 `json:"rms_db"`
	PeakDB float64 `json:"peak_db"`
}

// Stage is stateless and safe to share.
type Stage struct {
	name   string
	config Config
}

// New creates a loudness stage.
func New(name string, config Config) (*Stage, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Loudness", "New", "config validation")
	}
	return &Stage{name: name, config: config}, nil
}

// NewStage is the registry factory.
func NewStage(name string, params json.RawMessage, _ component.Dependencies) (component.Stage, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loudness", "NewStage", "decode params")
	}
	return New(name, cfg)
}

// Name implements component.Stage.
func (s *Stage) Name() string { return s.name }

// Domain implements component.Stage.
func (s *Stage) Domain() component.Domain { return component.DomainAudio }

// Process measures the clip. Empty clips stop the chain.
func (s *Stage) Process(_ context.Context, payload any) (component.Result, error) {
	clip, ok := payload.(*message.AudioClip)
	if !ok || clip == nil {
		return component.Result{}, errors.WrapInvalid(
			fmt.Errorf("%w: want *message.AudioClip, got %T", errors.ErrPayloadType, payload),
			"Loudness", "Process", "payload check")
	}
	if len(clip.Samples) == 0 {
		return component.Halt(clip), nil
	}

	level := Measure(clip.Samples)
	if level.RMSDB < s.config.ThresholdDB {
		return component.Halt(clip), nil
	}
	return component.Raise(clip, level), nil
}

// Measure returns RMS and peak levels in dBFS.
func Measure(samples []int16) Level {
	var sum float64
	var peak int
	for _, v := range samples {
		f := float64(v)
		sum += f * f
		a := int(v)
		if a < 0 {
			a = -a
		}
		peak = max(peak, a)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return Level{
		RMSDB:  toDB(rms / math.MaxInt16),
		PeakDB: toDB(float64(peak) / math.MaxInt16),
	}
}

func toDB(ratio float64) float64 {
	if ratio <= 0 {
		return silenceFloor
	}
	return max(20*math.Log10(ratio), silenceFloor)
}

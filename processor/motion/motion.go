// Package motion provides a visual stage that detects movement by
// differencing consecutive frames.
package motion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

// Config holds the detection thresholds.
type Config struct {
	// PixelThreshold is the absolute gray-level delta at which a pixel counts
	// as changed.
	PixelThreshold int `json:"pixel_threshold"`
	// MinChangedRatio is the fraction of changed pixels needed for motion.
	MinChangedRatio float64 `json:"min_changed_ratio"`
	// MinMeanDelta is the mean absolute delta over the whole frame needed
	// for motion.
	MinMeanDelta float64 `json:"min_mean_delta"`
}

// DefaultConfig returns thresholds suited to indoor cameras.
func DefaultConfig() Config {
	return Config{
		PixelThreshold:  25,
		MinChangedRatio: 0.01,
		MinMeanDelta:    0,
	}
}

// Validate checks the thresholds.
func (c *Config) Validate() error {
	if c.PixelThreshold < 1 || c.PixelThreshold > 255 {
		return fmt.Errorf("pixel_threshold must be between 1 and 255, got %d", c.PixelThreshold)
	}
	if c.MinChangedRatio < 0 || c.MinChangedRatio > 1 {
		return fmt.Errorf("min_changed_ratio must be between 0 and 1, got %v", c.MinChangedRatio)
	}
	if c.MinMeanDelta < 0 || c.MinMeanDelta > 255 {
		return fmt.Errorf("min_mean_delta must be between 0 and 255, got %v", c.MinMeanDelta)
	}
	return nil
}

// Report is attached as the alert payload when motion is detected.
type Report struct {
	ChangedRatio float64 `json:"changed_ratio"`
	MeanDelta    float64 `json:"mean_delta"`
}

// Stage compares each frame with the previous one. It keeps the previous
// frame, so an instance belongs to exactly one pipeline.
type Stage struct {
	name     string
	config   Config
	previous *message.Frame
}

// New creates a motion stage.
func New(name string, config Config) (*Stage, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Motion", "New", "config validation")
	}
	return &Stage{name: name, config: config}, nil
}

// NewStage is the registry factory.
func NewStage(name string, params json.RawMessage, _ component.Dependencies) (component.Stage, error) {
	cfg := DefaultConfig()
	if err := component.DecodeParams(params, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Motion", "NewStage", "decode params")
	}
	return New(name, cfg)
}

// Name implements component.Stage.
func (s *Stage) Name() string { return s.name }

// Domain implements component.Stage.
func (s *Stage) Domain() component.Domain { return component.DomainVisual }

// Process stops the chain on a blank frame, on the first frame and on a
// change of resolution. Otherwise it continues when both thresholds are met.
func (s *Stage) Process(_ context.Context, payload any) (component.Result, error) {
	frame, ok := payload.(*message.Frame)
	if !ok || frame == nil {
		return component.Result{}, errors.WrapInvalid(
			fmt.Errorf("%w: want *message.Frame, got %T", errors.ErrPayloadType, payload),
			"Motion", "Process", "payload check")
	}

	if frame.Uniform() {
		return component.Halt(frame), nil
	}

	previous := s.previous
	s.previous = frame
	if previous == nil || previous.Width != frame.Width || previous.Height != frame.Height {
		return component.Halt(frame), nil
	}

	report := diff(previous, frame, s.config.PixelThreshold)
	if report.ChangedRatio >= s.config.MinChangedRatio && report.MeanDelta >= s.config.MinMeanDelta &&
		report.ChangedRatio > 0 {
		return component.Raise(frame, report), nil
	}
	return component.Halt(frame), nil
}

func diff(a, b *message.Frame, threshold int) Report {
	var changed, total int
	for i := range b.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		total += d
		if d >= threshold {
			changed++
		}
	}
	n := float64(len(b.Pix))
	return Report{
		ChangedRatio: float64(changed) / n,
		MeanDelta:    float64(total) / n,
	}
}

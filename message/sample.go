// Package message defines the values that flow through watchpost: samples
// produced by sources, alert payloads produced by stages and the alert events
// pipelines hand to the controller.
package message

import (
	"time"
)

// Sample is one value published to a mailbox. Seq increases by one on every
// publish to the same mailbox, so readers can tell a fresh value from one they
// already processed.
type Sample struct {
	Source   string    `json:"source"`
	Seq      uint64    `json:"seq"`
	Captured time.Time `json:"captured"`
	Payload  any       `json:"payload"`
}

// Frame is an 8-bit grayscale image, row-major.
type Frame struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Pix    []byte `json:"-"`
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) *Frame {
	return &Frame{Width: width, Height: height, Pix: make([]byte, width*height)}
}

// At returns the pixel at (x, y).
func (f *Frame) At(x, y int) byte {
	return f.Pix[y*f.Width+x]
}

// Set writes the pixel at (x, y).
func (f *Frame) Set(x, y int, v byte) {
	f.Pix[y*f.Width+x] = v
}

// Uniform reports whether every pixel has the same value. Camera drivers
// return uniform frames when the sensor is covered or not yet exposed.
func (f *Frame) Uniform() bool {
	if len(f.Pix) == 0 {
		return true
	}
	first := f.Pix[0]
	for _, p := range f.Pix[1:] {
		if p != first {
			return false
		}
	}
	return true
}

// AudioClip is a block of mono signed 16-bit PCM.
type AudioClip struct {
	SampleRate int     `json:"sample_rate"`
	Samples    []int16 `json:"-"`
}

// Duration returns the clip length.
func (c *AudioClip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Datagram is an opaque payload received from the network.
type Datagram struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

package message

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame(t *testing.T) {
	f := NewFrame(4, 3)
	require.Len(t, f.Pix, 12)
	assert.True(t, f.Uniform())

	f.Set(3, 2, 200)
	assert.Equal(t, byte(200), f.At(3, 2))
	assert.Equal(t, byte(200), f.Pix[11])
	assert.False(t, f.Uniform())

	assert.True(t, (&Frame{}).Uniform())
}

func TestAudioClip_Duration(t *testing.T) {
	c := &AudioClip{SampleRate: 8000, Samples: make([]int16, 4000)}
	assert.Equal(t, 500*time.Millisecond, c.Duration())
	assert.Zero(t, (&AudioClip{}).Duration())
}

func TestNewEvent(t *testing.T) {
	a := NewEvent("entry", true, "x")
	b := NewEvent("entry", true, "x")

	assert.NotEqual(t, a.ID, b.ID)
	_, err := uuid.Parse(a.ID)
	assert.NoError(t, err)
	assert.Equal(t, "entry", a.Sender)
	assert.True(t, a.Alert)
	assert.WithinDuration(t, time.Now(), a.Time, time.Second)
}

func TestNotification(t *testing.T) {
	n := NewNotification("webhook", []any{Alert{Pipeline: "entry", Message: "m"}, nil})
	assert.Equal(t, 2, n.Count)
	assert.Equal(t, "webhook", n.Action)
	_, err := uuid.Parse(n.ID)
	require.NoError(t, err)

	data, err := n.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pipeline":"entry"`)
	assert.Contains(t, string(data), `"count":2`)

	empty, err := NewNotification("x", nil).Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(empty), `"alerts":[]`)
}

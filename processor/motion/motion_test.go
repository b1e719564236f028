package motion

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/errors"
	"github.com/c360/watchpost/message"
)

func frameWithSquare(x, y int) *message.Frame {
	f := message.NewFrame(20, 20)
	for j := y; j < y+4; j++ {
		for i := x; i < x+4; i++ {
			f.Set(i, j, 200)
		}
	}
	return f
}

func process(t *testing.T, s *Stage, f *message.Frame) component.Result {
	t.Helper()
	res, err := s.Process(context.Background(), f)
	require.NoError(t, err)
	return res
}

func TestStage_FirstFrameHalts(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	res := process(t, s, frameWithSquare(0, 0))
	assert.False(t, res.Continue)
}

func TestStage_BlankFrameHalts(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	process(t, s, frameWithSquare(0, 0))
	res := process(t, s, message.NewFrame(20, 20))
	assert.False(t, res.Continue)

	res = process(t, s, frameWithSquare(8, 8))
	assert.True(t, res.Continue, "blank frames do not replace the reference frame")
}

func TestStage_DetectsMovement(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	process(t, s, frameWithSquare(0, 0))
	res := process(t, s, frameWithSquare(10, 10))
	require.True(t, res.Continue)

	report, ok := res.Alert.(Report)
	require.True(t, ok)
	assert.InDelta(t, 32.0/400.0, report.ChangedRatio, 1e-9)
	assert.InDelta(t, 32.0*200/400.0, report.MeanDelta, 1e-9)
}

func TestStage_StillSceneHalts(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	process(t, s, frameWithSquare(5, 5))
	res := process(t, s, frameWithSquare(5, 5))
	assert.False(t, res.Continue)
}

func TestStage_Thresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChangedRatio = 0.5
	s, err := New("motion", cfg)
	require.NoError(t, err)

	process(t, s, frameWithSquare(0, 0))
	res := process(t, s, frameWithSquare(10, 10))
	assert.False(t, res.Continue, "8 percent changed is below the ratio")
}

func TestStage_ResolutionChangeHalts(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	process(t, s, frameWithSquare(0, 0))
	big := message.NewFrame(40, 40)
	big.Set(1, 1, 9)
	assert.False(t, process(t, s, big).Continue)
}

func TestStage_WrongPayload(t *testing.T) {
	s, err := New("motion", DefaultConfig())
	require.NoError(t, err)

	_, err = s.Process(context.Background(), "frame")
	assert.ErrorIs(t, err, errors.ErrPayloadType)
}

func TestNewStage_Params(t *testing.T) {
	st, err := NewStage("m", json.RawMessage(`{"pixel_threshold":10}`), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, component.DomainVisual, st.Domain())

	_, err = NewStage("m", json.RawMessage(`{"pixel_threshold":0}`), component.Dependencies{})
	assert.Error(t, err)
}

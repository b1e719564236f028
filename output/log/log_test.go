package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/message"
)

func TestAction_Notify(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	a, err := New("console", Config{Level: "error", Message: "intruder"}, logger)
	require.NoError(t, err)
	assert.Equal(t, "console", a.Name())

	require.NoError(t, a.Notify(context.Background(), []any{message.Alert{Pipeline: "entry"}}))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "intruder", record["msg"])
	assert.Equal(t, float64(1), record["count"])
}

func TestNewAction_Params(t *testing.T) {
	a, err := NewAction("console", nil, component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, a.(*Action).level)

	_, err = NewAction("console", json.RawMessage(`{"level":"loud"}`), component.Dependencies{})
	assert.Error(t, err)
}

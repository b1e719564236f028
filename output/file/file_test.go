package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/watchpost/component"
	"github.com/c360/watchpost/message"
)

func readLines(t *testing.T, path string) []message.Notification {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []message.Notification
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var n message.Notification
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &n))
		out = append(out, n)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestAction_AppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.jsonl")
	act, err := NewAction("journal", json.RawMessage(`{"path":"`+path+`","sync":true}`), component.Dependencies{})
	require.NoError(t, err)
	a := act.(*Action)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	require.NoError(t, a.Notify(ctx, []any{message.Alert{Pipeline: "entry"}}))
	require.NoError(t, a.Notify(ctx, []any{"a", "b"}))

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0].Count)
	assert.Equal(t, "journal", lines[0].Action)
	assert.Equal(t, []any{"a", "b"}, lines[1].Alerts)
	assert.Equal(t, int64(2), a.Written())
}

func TestAction_ReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	a, err := New("journal", Config{Path: path}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Open(context.Background()))
	require.NoError(t, a.Notify(context.Background(), []any{1}))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	require.NoError(t, a.Notify(context.Background(), []any{2}))
	require.NoError(t, a.Close())

	assert.Len(t, readLines(t, path), 2)
}

func TestAction_UnencodableBatch(t *testing.T) {
	a, err := New("journal", Config{Path: filepath.Join(t.TempDir(), "x.jsonl")}, nil)
	require.NoError(t, err)

	assert.Error(t, a.Notify(context.Background(), []any{make(chan int)}))
}

func TestNewAction_RequiresPath(t *testing.T) {
	_, err := NewAction("journal", json.RawMessage(`{}`), component.Dependencies{})
	assert.Error(t, err)
}

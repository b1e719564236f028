package mailbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_Empty(t *testing.T) {
	m := New("camera")

	_, ok := m.Get()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), m.Seq())
	assert.Equal(t, "camera", m.Name())
}

func TestMailbox_LastValueWins(t *testing.T) {
	m := New("camera")

	m.Set("a")
	m.Set("b")
	last := m.Set("c")

	got, ok := m.Get()
	require.True(t, ok)
	assert.Equal(t, "c", got.Payload)
	assert.Equal(t, uint64(3), got.Seq)
	assert.Equal(t, last, got)
	assert.Equal(t, "camera", got.Source)
	assert.Equal(t, uint64(2), m.Overwrites(), "a and b were never read")
}

func TestMailbox_RepeatedReads(t *testing.T) {
	m := New("mic")
	m.Set(1)

	a, _ := m.Get()
	b, _ := m.Get()
	assert.Equal(t, a, b, "readers may see the same sample twice")

	m.Set(2)
	assert.Equal(t, uint64(0), m.Overwrites())
}

func TestMailbox_OverwritesTrackEachSample(t *testing.T) {
	m := New("mic")

	m.Set(1)
	_, _ = m.Get()
	m.Set(2)
	m.Set(3)
	assert.Equal(t, uint64(1), m.Overwrites(), "only 2 went unread")

	_, err := m.Wait(context.Background(), 0)
	require.NoError(t, err)
	m.Set(4)
	assert.Equal(t, uint64(1), m.Overwrites())
}

func TestMailbox_OverwritesWithConcurrentReaders(t *testing.T) {
	m := New("camera")
	const sets = 500

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, _ = m.Get()
			}
		}()
	}

	for i := 1; i <= sets; i++ {
		m.Set(i)
	}
	cancel()
	wg.Wait()

	// The last sample was fetched after every Set returned.
	_, _ = m.Get()
	m.Set(sets + 1)
	assert.LessOrEqual(t, m.Overwrites(), uint64(sets-1))
}

func TestMailbox_Wait(t *testing.T) {
	m := New("camera")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Set("frame")
	}()

	got, err := m.Wait(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "frame", got.Payload)

	// Already-seen sample does not satisfy Wait.
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	_, err = m.Wait(short, got.Seq)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A newer one does.
	m.Set("next")
	got, err = m.Wait(ctx, got.Seq)
	require.NoError(t, err)
	assert.Equal(t, "next", got.Payload)
}

func TestMailbox_ConcurrentReaders(t *testing.T) {
	m := New("camera")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for {
				s, err := m.Wait(ctx, last)
				if err != nil {
					return
				}
				assert.Greater(t, s.Seq, last, "sequence never goes backwards")
				last = s.Seq
			}
		}()
	}

	for i := 0; i < 200; i++ {
		m.Set(i)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	s, ok := m.Get()
	require.True(t, ok)
	assert.Equal(t, 199, s.Payload)
}

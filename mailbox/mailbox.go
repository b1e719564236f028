// Package mailbox implements the single-slot handoff between a source worker
// and the pipelines reading from it.
//
// A Mailbox holds at most one sample. Set replaces it without blocking and
// without keeping history; Get returns whatever is there now. Readers may see
// the same sample twice or miss samples entirely. Every published sample is
// stamped with a per-mailbox sequence number so readers that care can tell
// the difference.
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/watchpost/message"
)

// entry pairs a sample with whether any reader has fetched it.
type entry struct {
	sample  message.Sample
	fetched atomic.Bool
}

// Mailbox is safe for one writer and any number of readers.
type Mailbox struct {
	name string
	slot atomic.Pointer[entry]
	seq  atomic.Uint64

	// overwrites counts samples replaced before any reader fetched them.
	overwrites atomic.Uint64

	mu     sync.Mutex
	notify chan struct{}
}

// New creates an empty mailbox for the named source.
func New(name string) *Mailbox {
	return &Mailbox{
		name:   name,
		notify: make(chan struct{}),
	}
}

// Name returns the source name this mailbox belongs to.
func (m *Mailbox) Name() string {
	return m.name
}

// Set publishes payload as the current sample and returns it.
func (m *Mailbox) Set(payload any) message.Sample {
	s := &entry{sample: message.Sample{
		Source:   m.name,
		Seq:      m.seq.Add(1),
		Captured: time.Now(),
		Payload:  payload,
	}}

	if old := m.slot.Swap(s); old != nil && !old.fetched.Load() {
		m.overwrites.Add(1)
	}

	m.mu.Lock()
	close(m.notify)
	m.notify = make(chan struct{})
	m.mu.Unlock()

	return s.sample
}

// Get returns the current sample, or false if nothing was ever published.
func (m *Mailbox) Get() (message.Sample, bool) {
	s := m.slot.Load()
	if s == nil {
		return message.Sample{}, false
	}
	s.fetched.Store(true)
	return s.sample, true
}

// Wait blocks until a sample newer than after is available or ctx is done.
// Wait(ctx, 0) returns as soon as anything has been published.
func (m *Mailbox) Wait(ctx context.Context, after uint64) (message.Sample, error) {
	for {
		m.mu.Lock()
		ch := m.notify
		m.mu.Unlock()

		if s := m.slot.Load(); s != nil && s.sample.Seq > after {
			s.fetched.Store(true)
			return s.sample, nil
		}

		select {
		case <-ctx.Done():
			return message.Sample{}, ctx.Err()
		case <-ch:
		}
	}
}

// Seq returns the sequence number of the latest publish, 0 if none.
func (m *Mailbox) Seq() uint64 {
	return m.seq.Load()
}

// Overwrites returns how many samples were replaced unread.
func (m *Mailbox) Overwrites() uint64 {
	return m.overwrites.Load()
}

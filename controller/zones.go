package controller

import (
	"sort"
	"strings"
	"sync"

	"github.com/c360/watchpost/errors"
)

// Zones holds named arm switches. Events from a pipeline whose zone is
// disarmed are treated as non-alerting.
type Zones struct {
	mu     sync.RWMutex
	states map[string]bool
}

// NewZones creates zones with their initial armed state. Names are
// case-insensitive.
func NewZones(initial map[string]bool) *Zones {
	z := &Zones{states: make(map[string]bool, len(initial))}
	for name, armed := range initial {
		z.states[normalizeZone(name)] = armed
	}
	return z
}

func normalizeZone(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Has reports whether the zone was declared.
func (z *Zones) Has(name string) bool {
	if z == nil {
		return false
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	_, ok := z.states[normalizeZone(name)]
	return ok
}

// Armed reports whether events in the zone count. An empty name or an
// undeclared zone is always armed.
func (z *Zones) Armed(name string) bool {
	if z == nil || name == "" {
		return true
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	armed, ok := z.states[normalizeZone(name)]
	return !ok || armed
}

// Set arms or disarms a zone.
func (z *Zones) Set(name string, armed bool) error {
	if z == nil {
		return errors.WrapInvalid(errors.ErrUnknownZone, "Zones", "Set", "zone "+name)
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	key := normalizeZone(name)
	if _, ok := z.states[key]; !ok {
		return errors.WrapInvalid(errors.ErrUnknownZone, "Zones", "Set", "zone "+name)
	}
	z.states[key] = armed
	return nil
}

// Toggle flips a zone and returns its new state.
func (z *Zones) Toggle(name string) (bool, error) {
	if z == nil {
		return false, errors.WrapInvalid(errors.ErrUnknownZone, "Zones", "Toggle", "zone "+name)
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	key := normalizeZone(name)
	armed, ok := z.states[key]
	if !ok {
		return false, errors.WrapInvalid(errors.ErrUnknownZone, "Zones", "Toggle", "zone "+name)
	}
	z.states[key] = !armed
	return !armed, nil
}

// Snapshot returns a copy of all zone states.
func (z *Zones) Snapshot() map[string]bool {
	if z == nil {
		return nil
	}
	z.mu.RLock()
	defer z.mu.RUnlock()
	out := make(map[string]bool, len(z.states))
	for k, v := range z.states {
		out[k] = v
	}
	return out
}

// Names returns the declared zone names, sorted.
func (z *Zones) Names() []string {
	snap := z.Snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package component

import (
	"context"
	"time"
)

// Cycle identifies the pipeline cycle a stage call belongs to.
type Cycle struct {
	Pipeline string
	Source   string
	Seq      uint64
	Captured time.Time
}

type cycleKey struct{}

// WithCycle attaches cycle information to ctx.
func WithCycle(ctx context.Context, c Cycle) context.Context {
	return context.WithValue(ctx, cycleKey{}, c)
}

// CycleFromContext returns the cycle a stage is running in, if any.
func CycleFromContext(ctx context.Context) (Cycle, bool) {
	c, ok := ctx.Value(cycleKey{}).(Cycle)
	return c, ok
}

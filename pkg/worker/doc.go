// Package worker provides a generic bounded worker pool.
//
// Submit never blocks: when the queue is full the item is dropped and
// ErrQueueFull is returned, which is what the controller wants for
// notification dispatch (a slow action must not stall aggregation).
// Processor panics are recovered and reported as ErrProcessorPanic through
// the optional error handler.
//
//	pool := worker.NewPool(4, 64, func(ctx context.Context, b Batch) error {
//	    return action.Notify(ctx, b.Payloads)
//	}, worker.WithErrorHandler(func(b Batch, err error) {
//	    logger.Error("dispatch failed", "error", err)
//	}))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker

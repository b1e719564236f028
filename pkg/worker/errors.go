package worker

import "errors"

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull is returned by Submit instead of blocking. Callers drop
	// the job.
	ErrQueueFull = errors.New("worker pool queue full")

	ErrNilProcessor   = errors.New("worker pool: nil process function")
	ErrStopTimeout    = errors.New("worker pool: workers still running after stop timeout")
	ErrProcessorPanic = errors.New("worker pool: process function panicked")
)

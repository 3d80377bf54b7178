package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning rejects submissions before Start or after Stop.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrJobQueueFull signals backpressure; the caller decides whether
	// to retry or drop.
	ErrJobQueueFull = errors.New("job queue is full")

	// ErrInvalidConfig reports a config that cannot produce a working
	// scheduler.
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

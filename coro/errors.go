package coro

import "errors"

// Sentinel errors for the task/worker layer. I/O failures themselves are
// not sentinels - they are decoded per call site from the kernel's
// negative result via iouring.ResultError.
var (
	// ErrRingOvercommitted is returned (and then panicked with) when an
	// awaitable cannot reserve an SQE even after one flush-and-retry
	// cycle: the program submitted more concurrent operations than
	// SwapCapacity budgeted for.
	ErrRingOvercommitted = errors.New("coro: ring overcommitted past a single flush-and-retry")

	// ErrSchedulerStopped is panicked with (wrapped) when an operation is
	// prepared against a Worker that has already left its run loop.
	ErrSchedulerStopped = errors.New("coro: worker has stopped")

	// ErrNilContinuation marks an attempt to push a nil continuation
	// handle onto a ready queue - always a programming error.
	ErrNilContinuation = errors.New("coro: nil continuation pushed to ready queue")

	// ErrRegistryTimeout is returned when the start-up barrier does not
	// observe created_count == ready_count within its bound.
	ErrRegistryTimeout = errors.New("coro: runtime start-up barrier timed out")

	// ErrReservedTag marks a completion whose user-data tag decoded to
	// the reserved "none"/uninitialised value.
	ErrReservedTag = errors.New("coro: completion carried an uninitialised user-data tag")
)

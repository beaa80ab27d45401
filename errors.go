package main

import "errors"

// Error taxonomy for provider and transport failures. Callers match with
// errors.Is and convert the result into an event plus a state transition;
// nothing propagates out of a run's worker as an unhandled fault.
var (
	// ErrAuthFailure marks bad or missing credentials. Surfaced once,
	// aborts the operation that triggered it, never retried.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrProviderUnavailable marks a queue fetch that failed on
	// transport, timeout or a non-2xx status. A fetch failure aborts the
	// run that issued it.
	ErrProviderUnavailable = errors.New("queue provider unavailable")

	// ErrApplyFailed marks an approve/remove call that failed. It fails
	// only the item it targeted, never the run.
	ErrApplyFailed = errors.New("apply failed")
)

package provider

import "errors"

// Failure taxonomy shared by generation and replay.
//
// These errors are checked with errors.Is() after wrapping:
//
//	if errors.Is(err, provider.ErrDependencyUnresolved) {
//	    // requeue for the next pass
//	}
var (
	// ErrObjectNotFound is returned when a work item's referenced object
	// cannot be resolved at execution time, e.g. it was dropped between
	// enumeration and dispatch.
	ErrObjectNotFound = errors.New("object not found")

	// ErrScriptGeneration is returned when the engine rejects script
	// generation for the given inputs.
	ErrScriptGeneration = errors.New("script generation failed")

	// ErrDependencyUnresolved is returned when applying a script fails
	// because a referenced object does not yet exist. Expected during
	// multi-pass replay; it drives the retry loop and only becomes
	// terminal after a pass makes zero progress.
	ErrDependencyUnresolved = errors.New("referenced object does not exist yet")

	// ErrConstraintViolation is returned when post-load validation finds
	// referential-integrity breaches.
	ErrConstraintViolation = errors.New("constraint violations found")

	// ErrSetup is returned when a worker cannot establish its own
	// provider session. Fatal to that worker only, never to the run.
	ErrSetup = errors.New("worker setup failed")

	// ErrNotSupported is returned when an engine does not implement an
	// operation or object type.
	ErrNotSupported = errors.New("operation not supported by this engine")
)

// IsRetryable reports whether a failed apply attempt may succeed on a later
// pass once more objects exist.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDependencyUnresolved)
}

// IsFatal reports whether the error ends the affected worker rather than
// one item: there is no session to process further items with.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSetup)
}

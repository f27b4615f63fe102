// Package merr defines the error taxonomy shared across the engine:
// configuration problems, connector failures, schema conflicts, dtype
// coercion failures, and the cooperative-cancellation family. Every
// sentinel here is meant to be matched with errors.Is after wrapping
// with fmt.Errorf("...: %w", ...).
package merr

import "errors"

var (
	// ErrConfiguration marks a bad or missing config/env value. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectorUnavailable marks a backend that refused or timed out.
	// Retried at the pipeline level per policy, then surfaced.
	ErrConnectorUnavailable = errors.New("connector unavailable")

	// ErrSchemaConflict marks an incoming dtype that cannot coexist with
	// the stored dtype under static=true or enforce=true. Fatal to that
	// pipe's sync, not to the run.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrDtypeMismatch marks a coercion failure on a specific row/column.
	// Fatal to the chunk.
	ErrDtypeMismatch = errors.New("dtype mismatch")

	// ErrNotFound marks a missing pipe/user/plugin.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks a duplicate registration.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransient marks a network blip. Retried with backoff.
	ErrTransient = errors.New("transient error")

	// ErrCancelled marks cooperative cancellation.
	ErrCancelled = errors.New("cancelled")

	// ErrTimedOut marks a cooperative-cancellation timeout.
	ErrTimedOut = errors.New("timed out")
)

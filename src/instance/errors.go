package instance

import "errors"

var (
	// ErrFlagMismatch is returned when opening a path already open on
	// the same goroutine with different read-only/in-memory/dynamic
	// flags.
	ErrFlagMismatch = errors.New("instance already open with different flags")

	// ErrReadOnly is returned for write transactions or notification
	// registration on a read-only instance.
	ErrReadOnly = errors.New("instance is read-only")

	// ErrInTransaction is returned when beginning a transaction or
	// compacting while a write transaction is already active.
	ErrInTransaction = errors.New("write transaction already in progress")

	// ErrNotInTransaction is returned when committing or cancelling
	// without an active write transaction.
	ErrNotInTransaction = errors.New("no write transaction in progress")

	// ErrUnversioned is returned when opening a file read-only before
	// any schema version was ever recorded in it.
	ErrUnversioned = errors.New("file has no schema version; cannot open read-only")

	// ErrExclusiveAccess is returned when compacting while other
	// instances are open on the same path.
	ErrExclusiveAccess = errors.New("operation requires exclusive access to the file")

	// ErrNoSchema is returned when a writable open has no schema to
	// reconcile: none passed, none declared by the binding layer.
	ErrNoSchema = errors.New("no schema declared for instance")

	// ErrClosed is returned for any operation on a closed instance.
	ErrClosed = errors.New("instance is closed")
)

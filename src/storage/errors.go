package storage

import "errors"

var (
	// ErrInvalidKey is returned when a file cannot be opened with the
	// supplied encryption key, including opening a sealed file without
	// a key or a plaintext file with one.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrKeyMismatch is returned when a path is opened with a key
	// different from the one its live shared state was opened with.
	ErrKeyMismatch = errors.New("encryption key differs from open instances")

	// ErrDetached is returned while the group's read view has been
	// invalidated and not yet refreshed.
	ErrDetached = errors.New("group view is detached; refresh required")

	// ErrTableNotFound is returned when resolving a missing table.
	ErrTableNotFound = errors.New("table not found")

	// ErrReadOnlyGroup is returned for write operations on a group
	// opened read-only.
	ErrReadOnlyGroup = errors.New("group is read-only")

	// ErrNotInTransaction is returned for structural or row mutations
	// attempted outside a write transaction.
	ErrNotInTransaction = errors.New("not in a write transaction")

	// ErrInTransaction is returned for operations that are disallowed
	// while a write transaction is active.
	ErrInTransaction = errors.New("write transaction in progress")

	// ErrFileExists is returned by WriteCopy when the target exists.
	ErrFileExists = errors.New("file already exists")

	// ErrClosed is returned for any operation on a closed group.
	ErrClosed = errors.New("group is closed")
)

package registry

import "errors"

var (
	// ErrKeyInUse is returned when changing a path's encryption key
	// while instances are open on it.
	ErrKeyInUse = errors.New("encryption key cannot change while instances are open")

	// ErrVersionInUse is returned when changing a path's target schema
	// version while instances are open on it.
	ErrVersionInUse = errors.New("schema version cannot change while instances are open")
)

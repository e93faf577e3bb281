package objectstore

import (
	"fmt"
	"strings"
)

// SchemaValidationError carries every problem found while validating
// one object type against its persisted table, so the caller sees the
// full picture rather than the first mismatch.
type SchemaValidationError struct {
	ObjectType string
	Problems   []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation failed for object type '%s': %s",
		e.ObjectType, strings.Join(e.Problems, "; "))
}

// VersionRegressionError is returned when a file's stored schema
// version is newer than the target version: the file was written by
// newer code and is never silently downgraded.
type VersionRegressionError struct {
	Stored uint64
	Target uint64
}

func (e *VersionRegressionError) Error() string {
	return fmt.Sprintf("provided schema version %d is less than last set version %d", e.Target, e.Stored)
}

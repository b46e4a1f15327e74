package store

import (
	"errors"
	"fmt"
)

// MissingKeyError is returned when a record of an upsert batch lacks the
// business-key field. The whole batch is rejected.
type MissingKeyError struct {
	// Field is the business-key field name.
	Field string
	// Index is the position of the first offending record in the batch.
	Index int
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("record %d: missing business key %q", e.Index, e.Field)
}

// ResourceNotFoundError is returned for operations on a resource that was
// never created or has been dropped.
type ResourceNotFoundError struct {
	ResourceID string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %q not found", e.ResourceID)
}

// SchemaConflictError is returned when a call would change the business-key
// field of an existing resource.
type SchemaConflictError struct {
	ResourceID string
	Existing   string
	Requested  string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("resource %q: primary key is %q, cannot change to %q",
		e.ResourceID, e.Existing, e.Requested)
}

// IsMissingKey reports whether err is a MissingKeyError.
// Uses errors.As to handle wrapped errors.
func IsMissingKey(err error) bool {
	var mke *MissingKeyError
	return errors.As(err, &mke)
}

// IsResourceNotFound reports whether err is a ResourceNotFoundError.
func IsResourceNotFound(err error) bool {
	var rnf *ResourceNotFoundError
	return errors.As(err, &rnf)
}

// IsSchemaConflict reports whether err is a SchemaConflictError.
func IsSchemaConflict(err error) bool {
	var sce *SchemaConflictError
	return errors.As(err, &sce)
}

package datastore

import (
	"errors"
	"fmt"
)

// HashMismatchError is returned by a verifying Resolve when the replayed
// result set no longer hashes to the registered result hash.
type HashMismatchError struct {
	Ref      string
	Expected string
	Actual   string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("query %s: result hash mismatch: registered %s, replayed %s",
		e.Ref, e.Expected, e.Actual)
}

// IsHashMismatch reports whether err is a HashMismatchError.
// Uses errors.As to handle wrapped errors.
func IsHashMismatch(err error) bool {
	var hme *HashMismatchError
	return errors.As(err, &hme)
}

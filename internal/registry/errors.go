package registry

import (
	"errors"
	"fmt"
)

// QueryNotFoundError is returned when a PID or query id is unknown.
type QueryNotFoundError struct {
	Ref string
}

func (e *QueryNotFoundError) Error() string {
	return fmt.Sprintf("query %q not found", e.Ref)
}

// IsQueryNotFound reports whether err is a QueryNotFoundError.
// Uses errors.As to handle wrapped errors.
func IsQueryNotFound(err error) bool {
	var qnf *QueryNotFoundError
	return errors.As(err, &qnf)
}

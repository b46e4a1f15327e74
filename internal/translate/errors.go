package translate

import (
	"errors"
	"fmt"
)

// UnknownFieldError is returned when a filter, projection or sort names a
// field the resource schema does not declare.
type UnknownFieldError struct {
	Field string
	// Where names the request part that referenced the field
	// ("filter", "fields", "sort").
	Where string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field %q", e.Where, e.Field)
}

// IsUnknownField reports whether err is an UnknownFieldError.
func IsUnknownField(err error) bool {
	var ufe *UnknownFieldError
	return errors.As(err, &ufe)
}

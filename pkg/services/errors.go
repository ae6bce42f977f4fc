// Package services holds the API-facing application services. Each service
// wraps the repositories and workers behind request-shaped methods and a
// small error taxonomy the HTTP layer maps onto status codes.
package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist. The HTTP
// layer maps it to 404.
var ErrNotFound = errors.New("not found")

// ValidationError marks a caller mistake: bad date, unknown timezone,
// out-of-range paging. The HTTP layer maps it to 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package simulator

import (
	"github.com/cockroachdb/errors"
)

// Error categories surfaced to callers. Concrete errors carry a short message
// naming the offending field or entity and are marked with one of these so
// errors.Is can classify them.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Validationf builds a validation error with the given message.
func Validationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// NotFoundf builds a not-found error with the given message.
func NotFoundf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Conflictf builds a conflict error with the given message.
func Conflictf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

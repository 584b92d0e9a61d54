// Package validation marks errors caused by bad input so handlers can answer
// 400 instead of 500.
package validation

import (
	"errors"
	"fmt"
)

type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func New(msg string) error { return &Error{msg: msg} }

func Errorf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err or anything it wraps is a validation error.
func Is(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

package apperror

import (
	"errors"
	"fmt"
)

// Error codes used across the tax engine.
const (
	ENOTFOUND      = "not_found"             // order, record or return does not exist
	EINVALIDSTATE  = "invalid_state"         // entity is not in a state that allows the operation
	ECONFIGURATION = "configuration"         // rate or rule data the engine cannot work with
	EDUPLICATE     = "duplicate_computation" // lost a race on a unique constraint
	EINVALID       = "invalid"               // bad caller input
	EINTERNAL      = "internal"
)

// Error is an application error with a machine-readable code.
type Error struct {
	// Code is one of the E* constants.
	Code string

	// Message is safe to show to an operator.
	Message string

	// Op names the operation, e.g. "taxrecord.calculate".
	Op string

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Op != "" {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a new error with a formatted message.
func Errorf(code, op, format string, args ...interface{}) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a code and operation to err. Returns nil if err is nil.
func Wrap(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// Code extracts the code from err. Non-application errors report EINTERNAL.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return EINTERNAL
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return Code(err) == code
}

func IsNotFound(err error) bool      { return IsCode(err, ENOTFOUND) }
func IsInvalidState(err error) bool  { return IsCode(err, EINVALIDSTATE) }
func IsConfiguration(err error) bool { return IsCode(err, ECONFIGURATION) }

package secure

import "fmt"

// ValidationError reports caller-correctable bad input: a malformed email
// address, a URL with a disallowed scheme, an unrecoverable filename. It is
// never used for internal faults.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

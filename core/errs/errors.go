// Package errs defines the error taxonomy shared by the query builder and
// the document engine. Callers distinguish error kinds with errors.As; the
// concrete types carry no stack detail beyond a stable kind and message.
package errs

import "fmt"

// ValidationError reports malformed caller input: an unknown filter
// operator, a bad locale value, or an entity that fails schema validation.
// Maps to a 4xx-equivalent client error.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation creates a ValidationError with a formatted message.
func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ApplicationError reports a request that is well-formed but violates an
// engine invariant, such as a component id that belongs to a different
// parent entity. Maps to a 4xx-equivalent client error.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// NewApplication creates an ApplicationError with a formatted message.
func NewApplication(format string, args ...any) *ApplicationError {
	return &ApplicationError{Message: fmt.Sprintf(format, args...)}
}

// OverflowError reports an internal integer identity column whose stored
// value exceeds the safe-integer range. Silently wrapping the value would
// corrupt id equality and joins, so decoding fails instead.
type OverflowError struct {
	Column string
	Value  string
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("value %q of column %q exceeds the safe integer range", e.Value, e.Column)
}

// DatabaseError is the dialect-translated form of a raw driver error. The
// original error remains reachable through Unwrap.
type DatabaseError struct {
	Dialect string
	Code    string
	Message string
	Err     error
}

func (e *DatabaseError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Dialect, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Dialect, e.Message)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

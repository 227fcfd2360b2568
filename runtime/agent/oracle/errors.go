package oracle

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed reports a reply that is not valid JSON of the expected
	// shape.
	ErrMalformed = errors.New("oracle: malformed reply")
	// ErrMissingField reports a reply lacking a required field, even one
	// level down.
	ErrMissingField = errors.New("oracle: missing field")
	// ErrInvalidValue reports a reply field holding an unacceptable value,
	// such as an unknown route type or a fabricated overflow id.
	ErrInvalidValue = errors.New("oracle: invalid value")
)

// ContractError reports an oracle-contract violation that persisted across
// the retry budget.
type ContractError struct {
	// Kind is the request kind.
	Kind Kind
	// Attempts is the number of oracle calls made.
	Attempts int
	// Cause is the error of the last attempt.
	Cause error
}

// Error implements error.
func (e *ContractError) Error() string {
	return fmt.Sprintf("oracle %s: contract violated after %d attempts: %v", e.Kind, e.Attempts, e.Cause)
}

// Unwrap returns the cause.
func (e *ContractError) Unwrap() error { return e.Cause }

func missing(field string) error {
	return fmt.Errorf("%w: %q", ErrMissingField, field)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

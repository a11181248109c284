package presence

import (
	"errors"
	"fmt"
)

// ErrNotFound signals a heartbeat or removal against an identity with no
// live entry. It is a non-error condition for removal paths; heartbeat
// callers use it to decide whether to re-issue a join.
var ErrNotFound = errors.New("presence: entry not found")

// StoreUnavailableError is returned when the underlying presence store is
// unreachable or timed out. Callers degrade to zero/default values and must
// not retry synchronously inside a request path.
type StoreUnavailableError struct {
	Op    string
	Cause error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("presence store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Cause
}

// NewStoreUnavailable wraps a transport failure in the typed error.
func NewStoreUnavailable(op string, cause error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Cause: cause}
}

// IsStoreUnavailable reports whether err is (or wraps) a store outage.
func IsStoreUnavailable(err error) bool {
	var unavailable *StoreUnavailableError
	return errors.As(err, &unavailable)
}

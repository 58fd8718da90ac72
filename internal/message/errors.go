package message

import (
	"errors"
	"fmt"
)

// ErrNoConversation signals that no conversation exists for the requested
// pair. Callers surface this as an empty-history result, not a failure.
var ErrNoConversation = errors.New("message: no conversation for pair")

// ValidationError rejects a send before any persistence is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("message: invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a store failure. A send that fails persistence is
// reported to the caller and never published to the delivery channel.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

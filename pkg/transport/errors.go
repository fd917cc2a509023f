package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates the controller is unreachable or the
	// transport is closed.
	ErrConnection = errors.New("connection error")

	// ErrAuth indicates the controller rejected the bearer credential.
	ErrAuth = errors.New("authentication rejected")

	// ErrNotFound indicates an unknown entity id.
	ErrNotFound = errors.New("entity not found")

	// ErrTransport indicates a malformed or unexpected controller response.
	ErrTransport = errors.New("unexpected controller response")

	// ErrCancelled indicates an in-flight call was voided by disconnect.
	ErrCancelled = errors.New("call cancelled")
)

// ActionError carries the controller's code and message when it rejects
// an action invocation.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("action rejected: %s", e.Message)
	}
	return fmt.Sprintf("action rejected (%s): %s", e.Code, e.Message)
}

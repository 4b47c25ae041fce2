package channel

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrNotAuthorized indicates the capability token was absent or rejected.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrCallingDisabled indicates capability acquisition failed twice and
	// calling stays off until the process restarts.
	ErrCallingDisabled = errors.New("calling disabled")

	// ErrNotReady indicates the channel cannot place a connection in its state.
	ErrNotReady = errors.New("channel not ready")

	// ErrNotActive indicates an operation requiring an active connection.
	ErrNotActive = errors.New("channel not active")

	// ErrNoIncoming indicates there is no incoming connection to accept or reject.
	ErrNoIncoming = errors.New("no incoming connection")

	// ErrBusy indicates the channel already carries a live connection.
	ErrBusy = errors.New("channel busy")
)

// StateError reports an operation attempted in the wrong channel state.
type StateError struct {
	Kind  Kind
	Op    string
	State State
	Err   error
}

// Error returns the error message.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s channel: %s in state %s: %v", e.Kind, e.Op, e.State, e.Err)
}

// Unwrap returns the sentinel.
func (e *StateError) Unwrap() error {
	return e.Err
}

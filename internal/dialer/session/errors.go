package session

import (
	"errors"
	"fmt"

	"github.com/sebas/dialer/internal/dialer/channel"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrSessionActive indicates a call is already in progress for the operator.
	ErrSessionActive = errors.New("session already active")

	// ErrNoSession indicates a command that needs a call while idle.
	ErrNoSession = errors.New("no active session")

	// ErrNotIncoming indicates answer was called without a ringing inbound call.
	ErrNotIncoming = errors.New("no incoming call")

	// ErrStopped indicates the manager is no longer running.
	ErrStopped = errors.New("session manager stopped")

	// ErrCallingDisabled is re-exported so callers need not import channel.
	ErrCallingDisabled = channel.ErrCallingDisabled
)

// TransitionError indicates a command was rejected in the current state.
type TransitionError struct {
	From  Status
	Input InputKind
	Err   error
}

// Error returns the error message.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s: %v", e.Input, e.From, e.Err)
}

// Unwrap returns the sentinel.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

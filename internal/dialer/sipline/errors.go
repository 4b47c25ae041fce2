package sipline

import (
	"errors"
	"fmt"
)

var (
	// ErrRingTimeout indicates the remote side never answered.
	ErrRingTimeout = errors.New("ring timeout")

	// ErrNotInbound indicates Accept on an outbound connection.
	ErrNotInbound = errors.New("not an inbound connection")

	// ErrTransaction indicates the INVITE transaction ended without a final response.
	ErrTransaction = errors.New("invite transaction terminated")

	// ErrNoURI indicates the line has no SIP URI configured for its kind.
	ErrNoURI = errors.New("no sip uri configured")
)

// StatusError is a final non-2xx SIP response to an INVITE.
type StatusError struct {
	Code   int
	Reason string
}

// Error returns the error message.
func (e *StatusError) Error() string {
	return fmt.Sprintf("sip %d %s", e.Code, e.Reason)
}

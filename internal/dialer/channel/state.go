// Package channel normalizes one logical communication line into a small
// lifecycle event set consumed by the call session.
package channel

import "fmt"

// Kind identifies which leg a channel carries.
type Kind int

const (
	// KindInternal bridges the operator into the call-center transport.
	KindInternal Kind = iota
	// KindExternal places the call to the customer.
	KindExternal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Kinds lists both legs in teardown order.
var Kinds = []Kind{KindInternal, KindExternal}

// State represents the connection state of a channel.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateConnecting
	StateActive
	StateDisconnected
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// CanPlace reports whether a new outbound connection may start.
func (s State) CanPlace() bool {
	return s == StateReady || s == StateDisconnected || s == StateFailed
}

// IsLive reports whether the channel carries a connection.
func (s State) IsLive() bool {
	return s == StateConnecting || s == StateActive
}

// EventType is the normalized lifecycle event set.
type EventType int

const (
	EventConnecting EventType = iota
	EventConnected
	EventDisconnected
	EventIncoming
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventIncoming:
		return "incoming"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Event is one lifecycle notification from a channel.
type Event struct {
	Kind   Kind
	Type   EventType
	ConnID string
	// From is the caller for incoming events.
	From string
	// Err is set when a disconnect was caused by a failure.
	Err error
}

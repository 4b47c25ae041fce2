// Package session implements the two-leg call session: a pure transition
// function over explicit states and a single-actor Manager that executes
// its effects against the device channels.
package session

import (
	"fmt"

	"github.com/sebas/dialer/internal/dialer/channel"
)

// Status is the coarse state of the operator's call.
type Status int

const (
	StatusIdle Status = iota
	StatusDialingInternal
	StatusDialingExternal
	StatusConnected
	StatusIncoming
	StatusDisconnected
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDialingInternal:
		return "dialing_internal"
	case StatusDialingExternal:
		return "dialing_external"
	case StatusConnected:
		return "connected"
	case StatusIncoming:
		return "incoming"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// IsActive reports whether a call occupies the session.
func (s Status) IsActive() bool {
	return s != StatusIdle && s != StatusDisconnected
}

// IsDialing reports whether either leg is still being placed.
func (s Status) IsDialing() bool {
	return s == StatusDialingInternal || s == StatusDialingExternal
}

// Mode is how the session was started.
type Mode int

const (
	// ModeOutbound dials the internal leg, then the external leg.
	ModeOutbound Mode = iota
	// ModeJoin bridges the operator into a conversation on the internal leg only.
	ModeJoin
	// ModeInbound rings the operator with an incoming connection.
	ModeInbound
)

// String returns the string representation of Mode.
func (m Mode) String() string {
	switch m {
	case ModeOutbound:
		return "outbound"
	case ModeJoin:
		return "join"
	case ModeInbound:
		return "inbound"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// LegState tracks one leg of the current call.
type LegState struct {
	ConnID    string
	Live      bool
	Connected bool
	Muted     bool
}

// State is the full session state the transition function operates on.
type State struct {
	Status Status
	Mode   Mode
	// Generation increments per call; timers and dial results carry it.
	Generation     uint64
	Legs           [2]LegState
	SettlePending  bool
	ExternalPlaced bool
}

// Leg returns the state of the given leg.
func (s State) Leg(kind channel.Kind) LegState {
	return s.Legs[kind]
}

func (s State) anyLive() bool {
	return s.Legs[channel.KindInternal].Live || s.Legs[channel.KindExternal].Live
}

// owns reports whether connID is the live connection of leg.
func (s State) owns(kind channel.Kind, connID string) bool {
	l := s.Legs[kind]
	return connID != "" && l.Live && l.ConnID == connID
}

// InputKind enumerates everything that can drive a transition.
type InputKind int

const (
	InputPlace InputKind = iota
	InputJoin
	InputIncoming
	InputLegPlaced
	InputLegConnected
	InputLegDisconnected
	InputLegFailed
	InputSettleElapsed
	InputAnswer
	InputDecline
	InputHangup
	InputCleanup
	InputMute
)

// String returns the string representation of InputKind.
func (k InputKind) String() string {
	switch k {
	case InputPlace:
		return "place"
	case InputJoin:
		return "join"
	case InputIncoming:
		return "incoming"
	case InputLegPlaced:
		return "leg_placed"
	case InputLegConnected:
		return "leg_connected"
	case InputLegDisconnected:
		return "leg_disconnected"
	case InputLegFailed:
		return "leg_failed"
	case InputSettleElapsed:
		return "settle_elapsed"
	case InputAnswer:
		return "answer"
	case InputDecline:
		return "decline"
	case InputHangup:
		return "hangup"
	case InputCleanup:
		return "cleanup"
	case InputMute:
		return "mute"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Input is one command, channel event, dial result or timer fire.
type Input struct {
	Kind InputKind
	Leg  channel.Kind
	// ConnID identifies the connection for channel events.
	ConnID string
	// Generation identifies the call for dial results and timers.
	Generation uint64
	Err        error
	// Muted is the requested flag for InputMute.
	Muted bool
}

// EffectKind enumerates the side effects a transition requests.
type EffectKind int

const (
	EffectDialInternal EffectKind = iota
	EffectDialExternal
	EffectScheduleSettle
	EffectCancelSettle
	EffectTerminateAll
	EffectAcceptIncoming
	EffectRejectIncoming
	EffectScheduleCleanup
	EffectCleanup
	EffectNotifyEnded
	EffectMute
)

// String returns the string representation of EffectKind.
func (k EffectKind) String() string {
	switch k {
	case EffectDialInternal:
		return "dial_internal"
	case EffectDialExternal:
		return "dial_external"
	case EffectScheduleSettle:
		return "schedule_settle"
	case EffectCancelSettle:
		return "cancel_settle"
	case EffectTerminateAll:
		return "terminate_all"
	case EffectAcceptIncoming:
		return "accept_incoming"
	case EffectRejectIncoming:
		return "reject_incoming"
	case EffectScheduleCleanup:
		return "schedule_cleanup"
	case EffectCleanup:
		return "cleanup"
	case EffectNotifyEnded:
		return "notify_ended"
	case EffectMute:
		return "mute"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// Effect is a side effect for the Manager to execute.
type Effect struct {
	Kind       EffectKind
	Leg        channel.Kind
	ConnID     string
	Generation uint64
	Muted      bool
}

// Package events defines the operator-facing events of the dialer and the
// publishers that carry them to NATS and to connected dashboards.
package events

import (
	"encoding/json"
	"time"

	"github.com/sebas/dialer/internal/dialer/roster"
)

// EventType identifies the type of dialer event
type EventType string

const (
	// CallStatus fires on every call session status change
	CallStatus EventType = "call.status"
	// CallEnded fires once when a session returns to idle
	CallEnded EventType = "call.ended"
	// CampaignStarted fires when an operator starts autodial
	CampaignStarted EventType = "campaign.started"
	// CampaignStopped fires when a campaign terminates for any reason
	CampaignStopped EventType = "campaign.stopped"
	// RosterChanged fires when a conversation's in-call set changes
	RosterChanged EventType = "roster.changed"
)

// StopReason explains why a campaign stopped
type StopReason string

const (
	StopReasonNoTarget        StopReason = "no_target"        // Label exhausted
	StopReasonCancelled       StopReason = "cancelled"        // Operator stopped it
	StopReasonSkipLimit       StopReason = "skip_limit"       // Too many undialable targets in a row
	StopReasonCallingDisabled StopReason = "calling_disabled" // Capability acquisition failed
	StopReasonClaimFailed     StopReason = "claim_failed"     // Backend claim error
	StopReasonAborted         StopReason = "aborted"          // Interrupted campaign found at startup
)

// Severity tells the dashboard how to surface a notice
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Event is the base interface for all dialer events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the NATS subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// ID returns the unique event id
	ID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	EventTime  time.Time `json:"event_time"`
	OperatorID string    `json:"operator_id,omitempty"`
	NodeID     string    `json:"node_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) ID() string           { return e.EventID }

// CallStatusEvent reports a session status change
type CallStatusEvent struct {
	BaseEvent
	CallUUID       string `json:"call_uuid"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status"`
	Mode           string `json:"mode,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TicketID       string `json:"ticket_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	InternalConnID string `json:"internal_conn_id,omitempty"`
	ExternalConnID string `json:"external_conn_id,omitempty"`
}

func (e *CallStatusEvent) Subject() string {
	return CallSubject(e.CallUUID, SubjectCallStatus)
}

// CallEndedEvent fires when a session is cleaned up
type CallEndedEvent struct {
	BaseEvent
	CallUUID       string `json:"call_uuid"`
	ConversationID string `json:"conversation_id,omitempty"`
	TicketID       string `json:"ticket_id,omitempty"`
	Cause          string `json:"cause"`
	Connected      bool   `json:"connected"`
	// Session creation to cleanup
	TotalDurationMs int64 `json:"total_duration_ms"`
	// Connected to teardown, zero if never connected
	TalkDurationMs int64 `json:"talk_duration_ms"`
}

func (e *CallEndedEvent) Subject() string {
	return CallSubject(e.CallUUID, SubjectCallEnded)
}

// CampaignEvent reports a campaign start or stop
type CampaignEvent struct {
	BaseEvent
	LabelID      string     `json:"label_id"`
	ProviderName string     `json:"provider_name,omitempty"`
	Reason       StopReason `json:"reason,omitempty"`
	Severity     Severity   `json:"severity,omitempty"`
	Message      string     `json:"message,omitempty"`
	Cycles       int        `json:"cycles"`
	Skipped      int        `json:"skipped,omitempty"`
}

func (e *CampaignEvent) Subject() string {
	suffix := SubjectCampaignStarted
	if e.EventType == CampaignStopped {
		suffix = SubjectCampaignStopped
	}
	return CampaignSubject(e.OperatorID, suffix)
}

// RosterChangedEvent carries the full in-call set after a change
type RosterChangedEvent struct {
	BaseEvent
	ConversationID string               `json:"conversation_id"`
	Participants   []roster.Participant `json:"participants"`
}

func (e *RosterChangedEvent) Subject() string {
	return RosterSubject(e.ConversationID)
}

// MarshalEvent encodes an event for the wire.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/sebas/dialer/internal/dialer/roster"
)

// Builder provides fluent construction of dialer events with consistent defaults.
type Builder struct {
	nodeID     string
	operatorID string
	now        func() time.Time
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(nodeID string) *Builder {
	return &Builder{nodeID: nodeID, now: time.Now}
}

// WithOperator sets the default operator ID for all events.
func (b *Builder) WithOperator(operatorID string) *Builder {
	b.operatorID = operatorID
	return b
}

// WithClock overrides the event timestamp source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// OperatorID returns the builder's operator.
func (b *Builder) OperatorID() string { return b.operatorID }

func (b *Builder) newBase(eventType EventType) BaseEvent {
	return BaseEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		EventTime:  b.now().UTC(),
		OperatorID: b.operatorID,
		NodeID:     b.nodeID,
	}
}

// CallStatusBuilder constructs CallStatusEvent.
type CallStatusBuilder struct {
	event *CallStatusEvent
}

// CallStatus starts building a CallStatusEvent.
func (b *Builder) CallStatus(callUUID string) *CallStatusBuilder {
	return &CallStatusBuilder{
		event: &CallStatusEvent{
			BaseEvent: b.newBase(CallStatus),
			CallUUID:  callUUID,
		},
	}
}

func (cb *CallStatusBuilder) Transition(from, to string) *CallStatusBuilder {
	cb.event.PreviousStatus = from
	cb.event.Status = to
	return cb
}

func (cb *CallStatusBuilder) Mode(mode string) *CallStatusBuilder {
	cb.event.Mode = mode
	return cb
}

func (cb *CallStatusBuilder) Context(conversationID, ticketID, customerID string) *CallStatusBuilder {
	cb.event.ConversationID = conversationID
	cb.event.TicketID = ticketID
	cb.event.CustomerID = customerID
	return cb
}

func (cb *CallStatusBuilder) Connections(internal, external string) *CallStatusBuilder {
	cb.event.InternalConnID = internal
	cb.event.ExternalConnID = external
	return cb
}

func (cb *CallStatusBuilder) Build() *CallStatusEvent {
	return cb.event
}

// CallEndedBuilder constructs CallEndedEvent.
type CallEndedBuilder struct {
	event *CallEndedEvent
}

// CallEnded starts building a CallEndedEvent.
func (b *Builder) CallEnded(callUUID string) *CallEndedBuilder {
	return &CallEndedBuilder{
		event: &CallEndedEvent{
			BaseEvent: b.newBase(CallEnded),
			CallUUID:  callUUID,
		},
	}
}

func (cb *CallEndedBuilder) Context(conversationID, ticketID string) *CallEndedBuilder {
	cb.event.ConversationID = conversationID
	cb.event.TicketID = ticketID
	return cb
}

func (cb *CallEndedBuilder) Cause(cause string) *CallEndedBuilder {
	cb.event.Cause = cause
	return cb
}

// Durations sets total and talk time; a zero talk time marks the call as never connected.
func (cb *CallEndedBuilder) Durations(total, talk time.Duration) *CallEndedBuilder {
	cb.event.TotalDurationMs = total.Milliseconds()
	cb.event.TalkDurationMs = talk.Milliseconds()
	cb.event.Connected = talk > 0
	return cb
}

func (cb *CallEndedBuilder) Build() *CallEndedEvent {
	return cb.event
}

// CampaignBuilder constructs CampaignEvent.
type CampaignBuilder struct {
	event *CampaignEvent
}

// CampaignStarted starts building a campaign.started event.
func (b *Builder) CampaignStarted(labelID, providerName string) *CampaignBuilder {
	return &CampaignBuilder{
		event: &CampaignEvent{
			BaseEvent:    b.newBase(CampaignStarted),
			LabelID:      labelID,
			ProviderName: providerName,
			Severity:     SeverityInfo,
		},
	}
}

// CampaignStopped starts building a campaign.stopped event. The severity
// follows the reason: exhaustion and cancellation are informational.
func (b *Builder) CampaignStopped(labelID string, reason StopReason) *CampaignBuilder {
	severity := SeverityError
	switch reason {
	case StopReasonNoTarget, StopReasonCancelled, StopReasonAborted:
		severity = SeverityInfo
	}
	return &CampaignBuilder{
		event: &CampaignEvent{
			BaseEvent: b.newBase(CampaignStopped),
			LabelID:   labelID,
			Reason:    reason,
			Severity:  severity,
		},
	}
}

func (cb *CampaignBuilder) Provider(name string) *CampaignBuilder {
	cb.event.ProviderName = name
	return cb
}

func (cb *CampaignBuilder) Message(msg string) *CampaignBuilder {
	cb.event.Message = msg
	return cb
}

func (cb *CampaignBuilder) Progress(cycles, skipped int) *CampaignBuilder {
	cb.event.Cycles = cycles
	cb.event.Skipped = skipped
	return cb
}

func (cb *CampaignBuilder) Build() *CampaignEvent {
	return cb.event
}

// RosterChanged builds a roster.changed event.
func (b *Builder) RosterChanged(conversationID string, participants []roster.Participant) *RosterChangedEvent {
	return &RosterChangedEvent{
		BaseEvent:      b.newBase(RosterChanged),
		ConversationID: conversationID,
		Participants:   participants,
	}
}

package session

import (
	"time"

	"github.com/sebas/dialer/internal/dialer/channel"
)

// Target carries the identifiers a call is placed with.
type Target struct {
	ConversationID string `json:"conversationId"`
	TicketID       string `json:"ticketId,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`
	// AuthToken is the conversation token issued with the claim.
	AuthToken      string `json:"authToken,omitempty"`
	PhoneTargetID  string `json:"phoneTargetId,omitempty"`
	CompanyPhoneID string `json:"companyPhoneId,omitempty"`
	ProviderName   string `json:"providerName,omitempty"`
	// ProviderProfileID, when set, has the provider originate the external leg.
	ProviderProfileID string `json:"providerProfileId,omitempty"`
}

// Routing parameter names carried on a channel.Address.
const (
	ParamConversationID = "conversationId"
	ParamOperatorID     = "operatorId"
	ParamPhoneTargetID  = "phoneTargetId"
	ParamCompanyPhoneID = "companyPhoneId"
	ParamAuthToken      = "authToken"
)

// InternalAddress is the self-addressed target that bridges the operator
// into the conversation.
func InternalAddress(operatorID string, t Target) channel.Address {
	params := map[string]string{
		ParamConversationID: t.ConversationID,
		ParamOperatorID:     operatorID,
	}
	if t.AuthToken != "" {
		params[ParamAuthToken] = t.AuthToken
	}
	return channel.Address{To: operatorID, Params: params}
}

// ExternalAddress is the customer-facing target.
func ExternalAddress(operatorID string, t Target) channel.Address {
	params := map[string]string{
		ParamConversationID: t.ConversationID,
		ParamPhoneTargetID:  t.PhoneTargetID,
		ParamOperatorID:     operatorID,
	}
	if t.CompanyPhoneID != "" {
		params[ParamCompanyPhoneID] = t.CompanyPhoneID
	}
	return channel.Address{To: t.PhoneTargetID, Params: params}
}

// Result describes how a call ended.
type Result struct {
	Cause     string
	Connected bool
	Duration  time.Duration
	TalkTime  time.Duration
}

// Call is one call attempt. Done is closed when the session returns to idle.
type Call struct {
	ID        string
	Mode      Mode
	Target    Target
	From      string
	StartedAt time.Time

	connectedAt time.Time
	cause       string
	result      Result
	done        chan struct{}
}

// Done is closed once the call has been torn down.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result is valid after Done is closed.
func (c *Call) Result() Result { return c.result }

// Snapshot is a point-in-time view of the session for status queries.
type Snapshot struct {
	CallID         string    `json:"callId,omitempty"`
	Status         Status    `json:"status"`
	Mode           Mode      `json:"mode"`
	Target         *Target   `json:"target,omitempty"`
	From           string    `json:"from,omitempty"`
	InternalConnID string    `json:"internalConnId,omitempty"`
	ExternalConnID string    `json:"externalConnId,omitempty"`
	InternalMuted  bool      `json:"internalMuted"`
	ExternalMuted  bool      `json:"externalMuted"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
}

// Package roster reconciles presence events into the set of participants
// currently in a conversation's call.
package roster

import "fmt"

// Role identifies what kind of party a participant is.
type Role string

const (
	RoleAccount Role = "account"
	RoleClient  Role = "client"
	RoleVisitor Role = "visitor"
)

// Participant is one tracked member of a conversation's call.
type Participant struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	InCall      bool   `json:"inCall"`
	Muted       bool   `json:"muted"`
	Role        Role   `json:"role"`
}

// Identity carries the core fields of a participant.
type Identity struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// CallState carries the call-specific fields reported for a conversation account.
type CallState struct {
	InCall bool `json:"inCall"`
	Muted  bool `json:"muted"`
}

// PresenceEvent is one push from the presence stream.
type PresenceEvent struct {
	ConversationID      string    `json:"conversationId"`
	Participant         Identity  `json:"participant"`
	ConversationAccount CallState `json:"conversationAccount"`
}

// Merge combines the identity and call-state halves of an event into one record.
func Merge(ev PresenceEvent) Participant {
	role := ev.Participant.Role
	if role == "" {
		role = RoleAccount
	}
	return Participant{
		AccountID:   ev.Participant.AccountID,
		DisplayName: ev.Participant.DisplayName,
		InCall:      ev.ConversationAccount.InCall,
		Muted:       ev.ConversationAccount.Muted,
		Role:        role,
	}
}

// Action is the effect an event had on a roster.
type Action int

const (
	ActionIgnore Action = iota
	ActionInsert
	ActionReplace
	ActionRemove
)

// String returns the string representation of Action.
func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionInsert:
		return "insert"
	case ActionReplace:
		return "replace"
	case ActionRemove:
		return "remove"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// Changed reports whether the action altered the roster.
func (a Action) Changed() bool {
	return a != ActionIgnore
}

// Roster is the in-call set for one conversation, keyed by account id.
// Members keep the order in which they joined. Not safe for concurrent use.
type Roster struct {
	conversationID string
	members        map[string]Participant
	order          []string
}

// New returns an empty roster.
func New(conversationID string) *Roster {
	return &Roster{
		conversationID: conversationID,
		members:        make(map[string]Participant),
	}
}

// ConversationID returns the conversation this roster tracks.
func (r *Roster) ConversationID() string { return r.conversationID }

// Apply reconciles one event. Events for the same account must be applied
// in receipt order.
func (r *Roster) Apply(ev PresenceEvent) Action {
	p := Merge(ev)
	if p.AccountID == "" {
		return ActionIgnore
	}

	_, tracked := r.members[p.AccountID]
	switch {
	case !p.InCall && !tracked:
		return ActionIgnore
	case p.InCall && !tracked:
		r.members[p.AccountID] = p
		r.order = append(r.order, p.AccountID)
		return ActionInsert
	case p.InCall && tracked:
		r.members[p.AccountID] = p
		return ActionReplace
	default:
		delete(r.members, p.AccountID)
		for i, id := range r.order {
			if id == p.AccountID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		return ActionRemove
	}
}

// Get returns the tracked participant for accountID.
func (r *Roster) Get(accountID string) (Participant, bool) {
	p, ok := r.members[accountID]
	return p, ok
}

// Len returns the number of participants in the call.
func (r *Roster) Len() int { return len(r.members) }

// Snapshot returns a copy of the participants in join order.
func (r *Roster) Snapshot() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

package roster

import (
	"context"
	"log/slog"
	"sync"
)

// ChangeFunc is called after an event changes a conversation's roster.
type ChangeFunc func(conversationID string, participants []Participant)

// Hub keeps one roster per conversation and applies the presence stream.
type Hub struct {
	mu       sync.RWMutex
	rosters  map[string]*Roster
	onChange ChangeFunc
}

// NewHub creates a hub. onChange may be nil.
func NewHub(onChange ChangeFunc) *Hub {
	return &Hub{
		rosters:  make(map[string]*Roster),
		onChange: onChange,
	}
}

// Apply reconciles ev into its conversation's roster.
func (h *Hub) Apply(ev PresenceEvent) Action {
	if ev.ConversationID == "" {
		return ActionIgnore
	}

	h.mu.Lock()
	r, ok := h.rosters[ev.ConversationID]
	if !ok {
		r = New(ev.ConversationID)
		h.rosters[ev.ConversationID] = r
	}
	action := r.Apply(ev)
	snapshot := r.Snapshot()
	if r.Len() == 0 {
		delete(h.rosters, ev.ConversationID)
	}
	h.mu.Unlock()

	if action.Changed() {
		slog.Debug("[Roster] Presence applied",
			"conversation_id", ev.ConversationID,
			"account_id", ev.Participant.AccountID,
			"action", action.String(),
			"size", len(snapshot),
		)
		if h.onChange != nil {
			h.onChange(ev.ConversationID, snapshot)
		}
	}
	return action
}

// Snapshot returns the participants currently in the conversation's call.
func (h *Hub) Snapshot(conversationID string) []Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rosters[conversationID]
	if !ok {
		return []Participant{}
	}
	return r.Snapshot()
}

// Conversations returns the number of conversations with a non-empty roster.
func (h *Hub) Conversations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rosters)
}

// Run applies events in receipt order until ctx is done or events is closed.
func (h *Hub) Run(ctx context.Context, events <-chan PresenceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Apply(ev)
		}
	}
}

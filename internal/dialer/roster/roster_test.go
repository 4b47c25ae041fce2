package roster

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func presence(conv, account string, inCall bool) PresenceEvent {
	return PresenceEvent{
		ConversationID:      conv,
		Participant:         Identity{AccountID: account, DisplayName: "User " + account, Role: RoleClient},
		ConversationAccount: CallState{InCall: inCall},
	}
}

func ids(ps []Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.AccountID)
	}
	return out
}

func TestRosterReconciliation(t *testing.T) {
	r := New("conv-1")
	events := []PresenceEvent{
		presence("conv-1", "A", true),
		presence("conv-1", "B", true),
		presence("conv-1", "A", false),
	}
	for _, ev := range events {
		r.Apply(ev)
	}

	if got, want := ids(r.Snapshot()), []string{"B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

func TestRosterApplyActions(t *testing.T) {
	r := New("conv-1")

	tests := []struct {
		name string
		ev   PresenceEvent
		want Action
	}{
		{"left before joining", presence("conv-1", "A", false), ActionIgnore},
		{"join", presence("conv-1", "A", true), ActionInsert},
		{"update while in call", presence("conv-1", "A", true), ActionReplace},
		{"leave", presence("conv-1", "A", false), ActionRemove},
		{"leave again", presence("conv-1", "A", false), ActionIgnore},
		{"missing account id", presence("conv-1", "", true), ActionIgnore},
	}

	for _, tt := range tests {
		if got := r.Apply(tt.ev); got != tt.want {
			t.Errorf("%s: Apply() = %v, want %v", tt.name, got, tt.want)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRosterReplaceUpdatesMute(t *testing.T) {
	r := New("conv-1")
	r.Apply(presence("conv-1", "A", true))

	muted := presence("conv-1", "A", true)
	muted.ConversationAccount.Muted = true
	muted.Participant.DisplayName = "Alice"
	r.Apply(muted)

	p, ok := r.Get("A")
	if !ok {
		t.Fatal("A not tracked")
	}
	if !p.Muted || p.DisplayName != "Alice" || p.Role != RoleClient {
		t.Errorf("Get(A) = %+v, want muted Alice with client role", p)
	}
}

func TestMergeDefaultsRole(t *testing.T) {
	p := Merge(PresenceEvent{
		Participant:         Identity{AccountID: "A"},
		ConversationAccount: CallState{InCall: true},
	})
	if p.Role != RoleAccount {
		t.Errorf("Role = %q, want %q", p.Role, RoleAccount)
	}
}

func TestHubKeepsConversationsApart(t *testing.T) {
	var changes []string
	h := NewHub(func(conv string, ps []Participant) {
		changes = append(changes, conv)
	})

	h.Apply(presence("conv-1", "A", true))
	h.Apply(presence("conv-2", "A", true))
	h.Apply(presence("conv-2", "B", true))
	h.Apply(presence("conv-1", "A", false))
	h.Apply(presence("conv-1", "C", false))

	if got := ids(h.Snapshot("conv-1")); len(got) != 0 {
		t.Errorf("conv-1 = %v, want empty", got)
	}
	if got, want := ids(h.Snapshot("conv-2")), []string{"A", "B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("conv-2 = %v, want %v", got, want)
	}
	if got, want := changes, []string{"conv-1", "conv-2", "conv-2", "conv-1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("changes = %v, want %v", got, want)
	}
	if got := h.Conversations(); got != 1 {
		t.Errorf("Conversations() = %d, want 1", got)
	}
}

func TestHubRunAppliesInOrder(t *testing.T) {
	h := NewHub(nil)
	ch := make(chan PresenceEvent, 3)
	ch <- presence("conv-1", "A", true)
	ch <- presence("conv-1", "B", true)
	ch <- presence("conv-1", "A", false)
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Run(ctx, ch); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got, want := ids(h.Snapshot("conv-1")), []string{"B"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Snapshot() = %v, want %v", got, want)
	}
}

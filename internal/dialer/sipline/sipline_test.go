package sipline

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/dialer/internal/dialer/channel"
)

func mustURI(t *testing.T, s string) sip.Uri {
	t.Helper()
	var u sip.Uri
	if err := sip.ParseUri(s, &u); err != nil {
		t.Fatalf("ParseUri(%q) error = %v", s, err)
	}
	return u
}

func testUA(t *testing.T) *UA {
	t.Helper()
	return &UA{
		cfg:         Config{AdvertiseAddr: "192.0.2.5", Port: 5070},
		internalURI: mustURI(t, "sip:bridge@pbx.example.com"),
		externalURI: mustURI(t, "sip:trunk@carrier.example.com:5080"),
		calls:       make(map[string]*conn),
		incoming:    make(map[channel.Kind]IncomingHandler),
	}
}

func testInvite(t *testing.T) *sip.Request {
	t.Helper()
	return newInvite(inviteParams{
		Target:  mustURI(t, "sip:15551234567@carrier.example.com:5080"),
		From:    mustURI(t, "sip:op-1@192.0.2.5:5070"),
		Contact: mustURI(t, "sip:dialer@192.0.2.5:5070"),
		CallID:  "call-1",
		Tag:     "abc123",
		Leg:     "external",
		Token:   "tok-ext",
		Params: map[string]string{
			"conversationId": "conv-1",
			"phoneTargetId":  "15551234567",
			"companyPhoneId": "",
		},
		SDP: []byte("v=0\r\n"),
	})
}

func TestTargetURI(t *testing.T) {
	u := testUA(t)

	got, err := u.targetURI(channel.KindExternal, channel.Address{To: "15551234567"})
	if err != nil {
		t.Fatalf("targetURI(external) error = %v", err)
	}
	if got.User != "15551234567" || got.Host != "carrier.example.com" || got.Port != 5080 {
		t.Errorf("targetURI(external) = %s, want sip:15551234567@carrier.example.com:5080", got.String())
	}
	if u.externalURI.User != "trunk" {
		t.Errorf("external URI mutated to user %q", u.externalURI.User)
	}

	got, err = u.targetURI(channel.KindInternal, channel.Address{To: "op-1"})
	if err != nil {
		t.Fatalf("targetURI(internal) error = %v", err)
	}
	if got.User != "bridge" || got.Host != "pbx.example.com" {
		t.Errorf("targetURI(internal) = %s, want sip:bridge@pbx.example.com", got.String())
	}

	u.internalURI = sip.Uri{}
	if _, err := u.targetURI(channel.KindInternal, channel.Address{}); err == nil {
		t.Error("targetURI with no internal URI error = nil, want ErrNoURI")
	}
}

func TestNewInviteHeaders(t *testing.T) {
	invite := testInvite(t)

	if invite.Method != sip.INVITE {
		t.Errorf("Method = %s, want INVITE", invite.Method)
	}
	if got := callIDOf(invite); got != "call-1" {
		t.Errorf("Call-ID = %q, want call-1", got)
	}
	if tag, _ := invite.From().Params.Get("tag"); tag != "abc123" {
		t.Errorf("From tag = %q, want abc123", tag)
	}
	if cseq := invite.CSeq(); cseq == nil || cseq.SeqNo != 1 || cseq.MethodName != sip.INVITE {
		t.Errorf("CSeq = %v, want 1 INVITE", cseq)
	}
	if ct := invite.GetHeader("Content-Type"); ct == nil || ct.Value() != "application/sdp" {
		t.Errorf("Content-Type = %v, want application/sdp", ct)
	}

	leg, token, params := requestParams(invite)
	if leg != "external" {
		t.Errorf("leg = %q, want external", leg)
	}
	if token != "tok-ext" {
		t.Errorf("token = %q, want tok-ext", token)
	}
	if params["conversationId"] != "conv-1" || params["phoneTargetId"] != "15551234567" {
		t.Errorf("params = %v, want conversationId and phoneTargetId", params)
	}
	if _, ok := params["companyPhoneId"]; ok {
		t.Error("empty param was sent as a header")
	}
}

func answer(t *testing.T, invite *sip.Request) *sip.Response {
	t.Helper()
	resp := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", nil)
	to := resp.To()
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", "remote-tag")
	resp.AppendHeader(&sip.ContactHeader{Address: mustURI(t, "sip:gw@198.51.100.7:5062")})
	return resp
}

func TestNewAckUsesContact(t *testing.T) {
	invite := testInvite(t)
	resp := answer(t, invite)
	ack := newAck(invite, resp)

	if ack.Method != sip.ACK {
		t.Errorf("Method = %s, want ACK", ack.Method)
	}
	if ack.Recipient.Host != "198.51.100.7" || ack.Recipient.Port != 5062 {
		t.Errorf("Request-URI = %s, want the 2xx Contact", ack.Recipient.String())
	}
	if tag, _ := ack.To().Params.Get("tag"); tag != "remote-tag" {
		t.Errorf("To tag = %q, want remote-tag", tag)
	}
	if cseq := ack.CSeq(); cseq == nil || cseq.SeqNo != 1 || cseq.MethodName != sip.ACK {
		t.Errorf("CSeq = %v, want 1 ACK", cseq)
	}
	// Sent back to where the 2xx came from.
	if ack.Destination() != resp.Source() || ack.Destination() != "carrier.example.com:5080" {
		t.Errorf("Destination() = %q, want response source %q", ack.Destination(), resp.Source())
	}
}

func TestNewAckFallsBackToContact(t *testing.T) {
	invite := testInvite(t)
	resp := answer(t, invite)
	resp.SetSource("")

	ack := newAck(invite, resp)
	if ack.Destination() != "198.51.100.7:5062" {
		t.Errorf("Destination() = %q, want the 2xx Contact 198.51.100.7:5062", ack.Destination())
	}
}

func TestNewCancelMatchesInvite(t *testing.T) {
	invite := testInvite(t)
	cancel := newCancel(invite)

	if cancel.Method != sip.CANCEL {
		t.Errorf("Method = %s, want CANCEL", cancel.Method)
	}
	if callIDOf(cancel) != "call-1" {
		t.Errorf("Call-ID = %q, want call-1", callIDOf(cancel))
	}
	if cseq := cancel.CSeq(); cseq == nil || cseq.SeqNo != 1 || cseq.MethodName != sip.CANCEL {
		t.Errorf("CSeq = %v, want 1 CANCEL", cseq)
	}
	if tag, _ := cancel.From().Params.Get("tag"); tag != "abc123" {
		t.Errorf("From tag = %q, want abc123", tag)
	}
}

func TestNewByeOutbound(t *testing.T) {
	invite := testInvite(t)
	contact := mustURI(t, "sip:dialer@192.0.2.5:5070")
	bye := newBye(invite, answer(t, invite), true, 2, contact)

	if bye.Recipient.Host != "198.51.100.7" {
		t.Errorf("Request-URI = %s, want the 2xx Contact", bye.Recipient.String())
	}
	if tag, _ := bye.From().Params.Get("tag"); tag != "abc123" {
		t.Errorf("From tag = %q, want local tag abc123", tag)
	}
	if tag, _ := bye.To().Params.Get("tag"); tag != "remote-tag" {
		t.Errorf("To tag = %q, want remote-tag", tag)
	}
	if bye.To().Address.User != "15551234567" {
		t.Errorf("To user = %q, want the dialed target", bye.To().Address.User)
	}
	if cseq := bye.CSeq(); cseq == nil || cseq.SeqNo != 2 || cseq.MethodName != sip.BYE {
		t.Errorf("CSeq = %v, want 2 BYE", cseq)
	}
}

func TestNewByeInboundSwapsParties(t *testing.T) {
	// The peer's INVITE: From carries their tag.
	invite := newInvite(inviteParams{
		Target:  mustURI(t, "sip:dialer@192.0.2.5:5070"),
		From:    mustURI(t, "sip:bridge@pbx.example.com"),
		Contact: mustURI(t, "sip:bridge@203.0.113.9:5060"),
		CallID:  "in-1",
		Tag:     "peer-tag",
	})
	ok := okResponse(invite, mustURI(t, "sip:dialer@192.0.2.5:5070"), nil)
	localTag, found := ok.To().Params.Get("tag")
	if !found || localTag == "" {
		t.Fatal("200 OK has no local To tag")
	}

	bye := newBye(invite, ok, false, 1, mustURI(t, "sip:dialer@192.0.2.5:5070"))
	if bye.Recipient.Host != "203.0.113.9" {
		t.Errorf("Request-URI = %s, want the INVITE Contact", bye.Recipient.String())
	}
	if tag, _ := bye.From().Params.Get("tag"); tag != localTag {
		t.Errorf("From tag = %q, want local tag %q", tag, localTag)
	}
	if tag, _ := bye.To().Params.Get("tag"); tag != "peer-tag" {
		t.Errorf("To tag = %q, want peer-tag", tag)
	}
	if bye.Destination() != "203.0.113.9:5060" {
		t.Errorf("Destination() = %q, want 203.0.113.9:5060", bye.Destination())
	}
}

func TestRouteKind(t *testing.T) {
	u := testUA(t)

	tests := []struct {
		name string
		from string
		leg  string
		want channel.Kind
	}{
		{"from internal host", "sip:bridge@pbx.example.com", "", channel.KindInternal},
		{"from elsewhere", "sip:15550001111@carrier.example.com", "", channel.KindExternal},
		{"leg header wins", "sip:bridge@pbx.example.com", "external", channel.KindExternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newInvite(inviteParams{
				Target:  mustURI(t, "sip:dialer@192.0.2.5:5070"),
				From:    mustURI(t, tt.from),
				Contact: mustURI(t, tt.from),
				CallID:  "r-1",
				Tag:     "t",
				Leg:     tt.leg,
			})
			if got := u.routeKind(req); got != tt.want {
				t.Errorf("routeKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

package sipline

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

const (
	headerToken = "X-Capability-Token"
	headerParam = "X-Dialer-"
	headerLeg   = "X-Dialer-Leg"

	// paramOperator names the operator in the From user part.
	paramOperator = "operatorId"
)

// inviteParams is everything needed to build an outbound INVITE.
type inviteParams struct {
	Target  sip.Uri
	From    sip.Uri
	Contact sip.Uri
	CallID  string
	Tag     string
	Leg     string
	Token   string
	Params  map[string]string
	SDP     []byte
}

func newInvite(p inviteParams) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, p.Target)

	maxFwd := sip.MaxForwardsHeader(70)
	invite.AppendHeader(&maxFwd)

	fromParams := sip.NewParams()
	fromParams.Add("tag", p.Tag)
	invite.AppendHeader(&sip.FromHeader{Address: p.From, Params: fromParams})
	invite.AppendHeader(&sip.ToHeader{Address: p.Target, Params: sip.NewParams()})

	callID := sip.CallIDHeader(p.CallID)
	invite.AppendHeader(&callID)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(&sip.ContactHeader{Address: p.Contact})

	if p.Leg != "" {
		invite.AppendHeader(sip.NewHeader(headerLeg, p.Leg))
	}
	if p.Token != "" {
		invite.AppendHeader(sip.NewHeader(headerToken, p.Token))
	}
	for _, k := range slices.Sorted(maps.Keys(p.Params)) {
		if v := p.Params[k]; v != "" {
			invite.AppendHeader(sip.NewHeader(headerParam+k, v))
		}
	}

	contentType := sip.ContentTypeHeader("application/sdp")
	invite.AppendHeader(&contentType)
	invite.SetBody(p.SDP)
	return invite
}

// newAck builds the ACK for a 2xx. It is sent outside the INVITE
// transaction to the remote target from the response Contact.
func newAck(invite *sip.Request, resp *sip.Response) *sip.Request {
	requestURI := invite.Recipient
	if contact := resp.Contact(); contact != nil {
		requestURI = contact.Address
	}

	ack := sip.NewRequest(sip.ACK, requestURI)
	sip.CopyHeaders("From", invite, ack)
	sip.CopyHeaders("Call-ID", invite, ack)
	if to := resp.To(); to != nil {
		ack.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params})
	}
	if cseq := invite.CSeq(); cseq != nil {
		ack.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.ACK})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	ack.AppendHeader(&maxFwd)

	dest := resp.Source()
	if dest == "" {
		dest = destination(requestURI)
	}
	ack.SetDestination(dest)
	return ack
}

func newCancel(invite *sip.Request) *sip.Request {
	cancel := sip.NewRequest(sip.CANCEL, invite.Recipient)
	sip.CopyHeaders("Via", invite, cancel)
	sip.CopyHeaders("From", invite, cancel)
	sip.CopyHeaders("To", invite, cancel)
	sip.CopyHeaders("Call-ID", invite, cancel)
	if cseq := invite.CSeq(); cseq != nil {
		cancel.AppendHeader(&sip.CSeqHeader{SeqNo: cseq.SeqNo, MethodName: sip.CANCEL})
	}
	maxFwd := sip.MaxForwardsHeader(70)
	cancel.AppendHeader(&maxFwd)
	return cancel
}

// newBye builds an in-dialog BYE. For an outbound dialog invite is ours
// and resp is the peer's 2xx; for an inbound dialog invite is the peer's
// and resp is our 2xx, so From and To swap.
func newBye(invite *sip.Request, resp *sip.Response, outbound bool, cseq uint32, contact sip.Uri) *sip.Request {
	var recipient sip.Uri
	switch {
	case outbound && resp.Contact() != nil:
		recipient = resp.Contact().Address
	case outbound:
		recipient = invite.Recipient
	case invite.Contact() != nil:
		recipient = invite.Contact().Address
		recipient.UriParams = sip.NewParams()
	default:
		recipient = invite.From().Address
	}

	bye := sip.NewRequest(sip.BYE, recipient)
	if len(invite.GetHeaders("Route")) > 0 {
		sip.CopyHeaders("Route", invite, bye)
	}

	if outbound {
		if from := invite.From(); from != nil {
			bye.AppendHeader(&sip.FromHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
		}
		if to := resp.To(); to != nil {
			bye.AppendHeader(&sip.ToHeader{DisplayName: to.DisplayName, Address: invite.Recipient, Params: to.Params.Clone()})
		}
	} else {
		if to := resp.To(); to != nil {
			bye.AppendHeader(&sip.FromHeader{DisplayName: to.DisplayName, Address: to.Address, Params: to.Params.Clone()})
		}
		if from := invite.From(); from != nil {
			bye.AppendHeader(&sip.ToHeader{DisplayName: from.DisplayName, Address: from.Address, Params: from.Params.Clone()})
		}
	}

	if callID := invite.CallID(); callID != nil {
		bye.AppendHeader(callID)
	}
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.AppendHeader(&sip.ContactHeader{Address: contact})

	bye.SetDestination(destination(recipient))
	return bye
}

// okResponse answers an inbound INVITE with an SDP body, adding a local
// To tag when the request had none.
func okResponse(invite *sip.Request, contact sip.Uri, sdp []byte) *sip.Response {
	resp := sip.NewResponseFromRequest(invite, sip.StatusOK, "OK", sdp)
	if to := resp.To(); to != nil {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params.Add("tag", generateTag())
		}
	}
	resp.AppendHeader(&sip.ContactHeader{Address: contact})
	contentType := sip.ContentTypeHeader("application/sdp")
	resp.AppendHeader(&contentType)
	return resp
}

// requestParams reads the dialer headers back off a request.
func requestParams(req *sip.Request) (leg, token string, params map[string]string) {
	params = make(map[string]string)
	for _, h := range req.Headers() {
		name := h.Name()
		switch {
		case strings.EqualFold(name, headerLeg):
			leg = h.Value()
		case strings.EqualFold(name, headerToken):
			token = h.Value()
		case len(name) > len(headerParam) && strings.EqualFold(name[:len(headerParam)], headerParam):
			params[name[len(headerParam):]] = h.Value()
		}
	}
	return leg, token, params
}

func callIDOf(req *sip.Request) string {
	if id := req.CallID(); id != nil {
		return string(*id)
	}
	return ""
}

func destination(uri sip.Uri) string {
	port := uri.Port
	if port == 0 {
		port = 5060
	}
	return fmt.Sprintf("%s:%d", uri.Host, port)
}

func generateCallID() string {
	return uuid.New().String()
}

func generateTag() string {
	return uuid.New().String()[:8]
}

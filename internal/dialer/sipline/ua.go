// Package sipline carries the dialer's two legs over SIP. One user agent
// serves both lines; their RTP streams meet in a relay so the operator
// and the customer hear each other.
package sipline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/media"
)

// Config configures the SIP user agent.
type Config struct {
	BindAddr      string
	AdvertiseAddr string
	Port          int
	// InternalURI is dialed by the internal leg.
	InternalURI string
	// ExternalURI is dialed by the external leg with its user part
	// replaced by the phone target.
	ExternalURI string
	RTPPortMin  int
	RTPPortMax  int

	RingTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns a Config with the stock timeouts.
func DefaultConfig() Config {
	return Config{
		BindAddr:       "0.0.0.0",
		Port:           5070,
		RTPPortMin:     20000,
		RTPPortMax:     20999,
		RingTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// IncomingHandler takes an inbound connection. A non-nil error rejects it.
type IncomingHandler func(conn channel.Connection, from string) error

// UA is the SIP user agent behind both channel lines.
//
// Thread Safety: All methods are safe for concurrent use.
type UA struct {
	cfg    Config
	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client
	pool   *media.PortPool
	relay  *media.Relay

	internalURI sip.Uri
	externalURI sip.Uri

	mu       sync.Mutex
	calls    map[string]*conn
	incoming map[channel.Kind]IncomingHandler
}

// NewUA creates the user agent and registers its request handlers.
func NewUA(cfg Config) (*UA, error) {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultConfig().RingTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	u := &UA{
		cfg:      cfg,
		pool:     media.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax),
		relay:    media.NewRelay(),
		calls:    make(map[string]*conn),
		incoming: make(map[channel.Kind]IncomingHandler),
	}
	if cfg.InternalURI != "" {
		if err := sip.ParseUri(cfg.InternalURI, &u.internalURI); err != nil {
			return nil, fmt.Errorf("internal uri: %w", err)
		}
	}
	if cfg.ExternalURI != "" {
		if err := sip.ParseUri(cfg.ExternalURI, &u.externalURI); err != nil {
			return nil, fmt.Errorf("external uri: %w", err)
		}
	}

	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	u.ua, u.srv, u.client = ua, srv, client

	srv.OnRequest(sip.INVITE, u.handleInvite)
	srv.OnRequest(sip.ACK, u.handleAck)
	srv.OnRequest(sip.BYE, u.handleBye)
	srv.OnRequest(sip.CANCEL, u.handleCancel)

	slog.Info("[SIPLine] Handlers registered", "methods", "INVITE, ACK, BYE, CANCEL")
	return u, nil
}

// Serve listens for SIP over UDP until ctx is cancelled.
func (u *UA) Serve(ctx context.Context) error {
	listenAddr := fmt.Sprintf("%s:%d", u.cfg.BindAddr, u.cfg.Port)
	slog.Info("[SIPLine] Listening", "addr", listenAddr, "advertise", u.cfg.AdvertiseAddr)
	if err := u.srv.ListenAndServe(ctx, "udp", listenAddr); err != nil && ctx.Err() == nil {
		return fmt.Errorf("sip listen %s: %w", listenAddr, err)
	}
	return nil
}

// OnIncoming routes inbound INVITEs for kind to h.
func (u *UA) OnIncoming(kind channel.Kind, h IncomingHandler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.incoming[kind] = h
}

// Factory returns a channel.LineFactory opening lines on this UA.
func (u *UA) Factory() channel.LineFactory {
	return func(ctx context.Context, kind channel.Kind, token string) (channel.Line, error) {
		if _, err := u.targetURI(kind, channel.Address{}); err != nil {
			return nil, err
		}
		return &line{ua: u, kind: kind, token: token}, nil
	}
}

// Relay exposes the media relay joining the two legs.
func (u *UA) Relay() *media.Relay { return u.relay }

// Close hangs up every dialog and stops the user agent.
func (u *UA) Close() {
	u.mu.Lock()
	calls := make([]*conn, 0, len(u.calls))
	for _, c := range u.calls {
		calls = append(calls, c)
	}
	u.mu.Unlock()

	for _, c := range calls {
		_ = c.Hangup(context.Background())
	}
	u.ua.Close()
}

func (u *UA) contact() sip.Uri {
	return sip.Uri{Scheme: "sip", User: "dialer", Host: u.cfg.AdvertiseAddr, Port: u.cfg.Port}
}

// targetURI resolves where kind dials. The external URI user part is the
// phone target.
func (u *UA) targetURI(kind channel.Kind, addr channel.Address) (sip.Uri, error) {
	var uri sip.Uri
	switch kind {
	case channel.KindInternal:
		uri = u.internalURI
	case channel.KindExternal:
		uri = u.externalURI
		if addr.To != "" {
			uri.User = addr.To
		}
	}
	if uri.Host == "" {
		return sip.Uri{}, fmt.Errorf("%s line: %w", kind, ErrNoURI)
	}
	return uri, nil
}

// routeKind decides which line an inbound INVITE belongs to: an explicit
// leg header wins, then a From host matching the internal URI.
func (u *UA) routeKind(req *sip.Request) channel.Kind {
	leg, _, _ := requestParams(req)
	switch strings.ToLower(leg) {
	case "internal":
		return channel.KindInternal
	case "external":
		return channel.KindExternal
	}
	if from := req.From(); from != nil && u.internalURI.Host != "" && strings.EqualFold(from.Address.Host, u.internalURI.Host) {
		return channel.KindInternal
	}
	return channel.KindExternal
}

func (u *UA) track(c *conn) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls[c.id] = c
}

func (u *UA) untrack(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.calls, id)
}

func (u *UA) lookup(id string) (*conn, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	c, ok := u.calls[id]
	return c, ok
}

func (u *UA) writeRequest(req *sip.Request) error {
	done := make(chan error, 1)
	go func() {
		done <- u.client.WriteRequest(req)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(u.cfg.RequestTimeout):
		return fmt.Errorf("write %s: timeout", req.Method)
	}
}

func (u *UA) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	if _, exists := u.lookup(callID); exists {
		// Retransmission; the transaction layer already answers it.
		return
	}

	kind := u.routeKind(req)
	from := ""
	if f := req.From(); f != nil {
		from = f.Address.String()
	}

	u.mu.Lock()
	handler := u.incoming[kind]
	u.mu.Unlock()
	if handler == nil {
		respond(tx, req, 480, "Temporarily Unavailable")
		return
	}

	remote, err := media.ParseRemote(req.Body())
	if err != nil {
		slog.Warn("[SIPLine] Rejecting INVITE with unusable SDP", "call_id", callID, "error", err)
		respond(tx, req, 488, "Not Acceptable Here")
		return
	}

	stream, err := media.OpenStream(u.pool, u.cfg.AdvertiseAddr)
	if err != nil {
		slog.Error("[SIPLine] No media for INVITE", "call_id", callID, "error", err)
		respond(tx, req, 503, "Service Unavailable")
		return
	}

	c := newConn(u, kind, callID, true, stream)
	c.invite, c.tx, c.remote = req, tx, remote
	u.track(c)

	respond(tx, req, 180, "Ringing")
	if err := handler(c, from); err != nil {
		slog.Info("[SIPLine] Incoming call refused", "kind", kind.String(), "call_id", callID, "error", err)
		respond(tx, req, 486, "Busy Here")
		c.end(nil)
		return
	}
	slog.Info("[SIPLine] Incoming call", "kind", kind.String(), "call_id", callID, "from", from)
}

func (u *UA) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	slog.Debug("[SIPLine] ACK received", "call_id", callIDOf(req))
}

func (u *UA) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	c, ok := u.lookup(callID)
	if !ok {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	respond(tx, req, 200, "OK")
	slog.Info("[SIPLine] Remote hangup", "kind", c.kind.String(), "call_id", callID)
	c.end(nil)
}

func (u *UA) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := callIDOf(req)
	c, ok := u.lookup(callID)
	if !ok || !c.inbound || c.isAnswered() {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	respond(tx, req, 200, "OK")
	respond(c.tx, c.invite, 487, "Request Terminated")
	slog.Info("[SIPLine] Caller cancelled", "kind", c.kind.String(), "call_id", callID)
	c.end(nil)
}

func respond(tx sip.ServerTransaction, req *sip.Request, code sip.StatusCode, reason string) {
	if err := tx.Respond(sip.NewResponseFromRequest(req, code, reason, nil)); err != nil {
		slog.Warn("[SIPLine] Failed to respond", "call_id", callIDOf(req), "status", code, "error", err)
	}
}

// line is one channel's view of the user agent.
type line struct {
	ua    *UA
	kind  channel.Kind
	token string
}

// Dial sends an INVITE and returns while it rings.
func (l *line) Dial(ctx context.Context, addr channel.Address) (channel.Connection, error) {
	target, err := l.ua.targetURI(l.kind, addr)
	if err != nil {
		return nil, err
	}

	stream, err := media.OpenStream(l.ua.pool, l.ua.cfg.AdvertiseAddr)
	if err != nil {
		return nil, err
	}
	offer, err := media.BuildOffer(stream.LocalAddr(), stream.LocalPort(), uint64(time.Now().UnixNano()))
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("build offer: %w", err)
	}

	c := newConn(l.ua, l.kind, generateCallID(), false, stream)
	c.cseq.Store(1)
	contact := l.ua.contact()
	from := contact
	if op := addr.Params[paramOperator]; op != "" {
		from.User = op
	}
	c.invite = newInvite(inviteParams{
		Target:  target,
		From:    from,
		Contact: contact,
		CallID:  c.id,
		Tag:     generateTag(),
		Leg:     l.kind.String(),
		Token:   l.token,
		Params:  addr.Params,
		SDP:     offer,
	})

	dialCtx, cancel := context.WithTimeout(context.Background(), l.ua.cfg.RingTimeout)
	c.cancelDial = cancel

	tx, err := l.ua.client.TransactionRequest(dialCtx, c.invite)
	if err != nil {
		cancel()
		_ = stream.Close()
		return nil, fmt.Errorf("send INVITE: %w", err)
	}
	l.ua.track(c)

	slog.Info("[SIPLine] INVITE sent",
		"kind", l.kind.String(),
		"call_id", c.id,
		"target", target.String(),
	)
	go c.runInvite(dialCtx, tx)
	return c, nil
}

// Close is a no-op; dialogs belong to the user agent.
func (l *line) Close() error { return nil }

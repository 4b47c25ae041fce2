package sipline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/media"
)

// conn is one SIP dialog carrying one leg. It implements channel.Connection.
type conn struct {
	ua      *UA
	kind    channel.Kind
	id      string
	inbound bool
	stream  *media.Stream

	answered   chan struct{}
	answerOnce sync.Once
	done       chan struct{}
	endOnce    sync.Once

	mu     sync.Mutex
	err    error
	invite *sip.Request
	resp   *sip.Response
	tx     sip.ServerTransaction
	remote media.Remote

	cancelDial context.CancelFunc
	hangingUp  atomic.Bool
	cseq       atomic.Uint32
}

func newConn(ua *UA, kind channel.Kind, id string, inbound bool, stream *media.Stream) *conn {
	return &conn{
		ua:       ua,
		kind:     kind,
		id:       id,
		inbound:  inbound,
		stream:   stream,
		answered: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *conn) ID() string                { return c.id }
func (c *conn) Answered() <-chan struct{} { return c.answered }
func (c *conn) Done() <-chan struct{}     { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) isAnswered() bool {
	select {
	case <-c.answered:
		return true
	default:
		return false
	}
}

func (c *conn) markAnswered() {
	c.answerOnce.Do(func() { close(c.answered) })
}

// end releases media and closes Done. Only the first call has effect.
func (c *conn) end(err error) {
	c.endOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		cancel := c.cancelDial
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.ua.relay.Detach(sideOf(c.kind), c.stream)
		_ = c.stream.Close()
		c.ua.untrack(c.id)
		close(c.done)

		slog.Debug("[SIPLine] Dialog ended",
			"kind", c.kind.String(),
			"call_id", c.id,
			"error", err,
		)
	})
}

// startMedia points the stream at the peer and joins it to the relay.
func (c *conn) startMedia(remote media.Remote) error {
	if err := c.stream.SetRemote(remote.Endpoint); err != nil {
		return err
	}
	c.mu.Lock()
	c.remote = remote
	c.mu.Unlock()
	c.ua.relay.Attach(sideOf(c.kind), c.stream)
	return nil
}

// runInvite drives an outbound INVITE transaction until it is answered,
// rejected, cancelled or times out.
func (c *conn) runInvite(ctx context.Context, tx sip.ClientTransaction) {
	for {
		select {
		case <-ctx.Done():
			c.sendCancel()
			if c.hangingUp.Load() {
				c.end(nil)
			} else {
				c.end(ErrRingTimeout)
			}
			return

		case resp := <-tx.Responses():
			if resp == nil {
				c.end(ErrTransaction)
				return
			}
			if c.handleResponse(resp) {
				return
			}

		case <-tx.Done():
			if !c.isAnswered() {
				err := tx.Err()
				if err == nil {
					err = ErrTransaction
				}
				c.end(fmt.Errorf("%w: %v", ErrTransaction, err))
			}
			return
		}
	}
}

// handleResponse reports whether the INVITE reached a final outcome.
func (c *conn) handleResponse(resp *sip.Response) bool {
	code := int(resp.StatusCode)
	switch {
	case code < 180:
		return false

	case code < 200:
		slog.Info("[SIPLine] Ringing", "kind", c.kind.String(), "call_id", c.id, "status", code)
		return false

	case code < 300:
		c.handle2xx(resp)
		return true

	default:
		slog.Info("[SIPLine] Call rejected",
			"kind", c.kind.String(),
			"call_id", c.id,
			"status", code,
			"reason", resp.Reason,
		)
		c.end(&StatusError{Code: code, Reason: resp.Reason})
		return true
	}
}

func (c *conn) handle2xx(resp *sip.Response) {
	c.mu.Lock()
	c.resp = resp
	invite := c.invite
	c.mu.Unlock()

	if err := c.ua.writeRequest(newAck(invite, resp)); err != nil {
		slog.Error("[SIPLine] Failed to send ACK", "call_id", c.id, "error", err)
	}

	remote, err := media.ParseRemote(resp.Body())
	if err != nil {
		slog.Error("[SIPLine] Unusable answer SDP", "call_id", c.id, "error", err)
		c.sendBye()
		c.end(fmt.Errorf("answer sdp: %w", err))
		return
	}
	if err := c.startMedia(remote); err != nil {
		c.sendBye()
		c.end(fmt.Errorf("answer media: %w", err))
		return
	}

	c.markAnswered()
	slog.Info("[SIPLine] Call answered",
		"kind", c.kind.String(),
		"call_id", c.id,
		"remote_media", remote.Endpoint.String(),
		"codec", remote.Codec.Name,
	)

	// Hangup raced the answer.
	if c.hangingUp.Load() {
		c.sendBye()
		c.end(nil)
	}
}

func (c *conn) sendCancel() {
	c.mu.Lock()
	invite := c.invite
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.ua.cfg.RequestTimeout)
	defer cancel()

	tx, err := c.ua.client.TransactionRequest(ctx, newCancel(invite))
	if err != nil {
		slog.Warn("[SIPLine] Failed to send CANCEL", "call_id", c.id, "error", err)
		return
	}

	select {
	case resp := <-tx.Responses():
		if resp != nil {
			slog.Debug("[SIPLine] CANCEL response", "call_id", c.id, "status", resp.StatusCode)
		}
	case <-tx.Done():
	case <-ctx.Done():
	}
	slog.Info("[SIPLine] CANCEL sent", "call_id", c.id)
}

func (c *conn) sendBye() {
	c.mu.Lock()
	invite, resp := c.invite, c.resp
	c.mu.Unlock()
	if resp == nil {
		return
	}

	bye := newBye(invite, resp, !c.inbound, c.cseq.Add(1), c.ua.contact())

	ctx, cancel := context.WithTimeout(context.Background(), c.ua.cfg.RequestTimeout)
	defer cancel()

	tx, err := c.ua.client.TransactionRequest(ctx, bye)
	if err != nil {
		slog.Error("[SIPLine] Failed to send BYE", "call_id", c.id, "error", err)
		return
	}

	select {
	case resp := <-tx.Responses():
		if resp != nil {
			slog.Debug("[SIPLine] BYE response", "call_id", c.id, "status", resp.StatusCode)
		}
	case <-tx.Done():
	case <-ctx.Done():
		slog.Warn("[SIPLine] BYE timeout", "call_id", c.id)
	}
}

// Accept answers an inbound INVITE.
func (c *conn) Accept(ctx context.Context) error {
	if !c.inbound {
		return ErrNotInbound
	}
	select {
	case <-c.done:
		return fmt.Errorf("accept %s: %w", c.id, channel.ErrNoIncoming)
	default:
	}
	if c.isAnswered() {
		return nil
	}

	c.mu.Lock()
	invite, tx, remote := c.invite, c.tx, c.remote
	c.mu.Unlock()

	body, err := media.BuildAnswer(c.stream.LocalAddr(), c.stream.LocalPort(), uint64(time.Now().UnixNano()), remote.Codec, remote.DTMF)
	if err != nil {
		return fmt.Errorf("build answer: %w", err)
	}
	resp := okResponse(invite, c.ua.contact(), body)
	if err := tx.Respond(resp); err != nil {
		return fmt.Errorf("respond 200: %w", err)
	}

	c.mu.Lock()
	c.resp = resp
	c.mu.Unlock()

	if err := c.startMedia(remote); err != nil {
		c.sendBye()
		c.end(err)
		return err
	}
	c.markAnswered()
	slog.Info("[SIPLine] Call accepted", "kind", c.kind.String(), "call_id", c.id)
	return nil
}

// Hangup ends the dialog: BYE when answered, CANCEL while an outbound
// INVITE is pending, 486 for an unanswered inbound INVITE.
func (c *conn) Hangup(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	if !c.hangingUp.CompareAndSwap(false, true) {
		return nil
	}

	switch {
	case c.isAnswered():
		c.sendBye()
		c.end(nil)

	case c.inbound:
		c.mu.Lock()
		invite, tx := c.invite, c.tx
		c.mu.Unlock()
		resp := sip.NewResponseFromRequest(invite, 486, "Busy Here", nil)
		if err := tx.Respond(resp); err != nil {
			slog.Warn("[SIPLine] Failed to reject INVITE", "call_id", c.id, "error", err)
		}
		c.end(nil)

	default:
		// runInvite sends CANCEL and ends the dialog.
		c.mu.Lock()
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	return nil
}

// SetMuted replaces this leg's relayed audio with silence.
func (c *conn) SetMuted(muted bool) error {
	select {
	case <-c.done:
		return fmt.Errorf("mute %s: %w", c.id, channel.ErrNotActive)
	default:
	}
	c.stream.SetMuted(muted)
	return nil
}

func sideOf(kind channel.Kind) media.Side {
	if kind == channel.KindInternal {
		return media.SideA
	}
	return media.SideB
}

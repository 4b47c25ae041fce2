package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Address is what a line dials: a destination plus opaque routing parameters.
type Address struct {
	To     string
	Params map[string]string
}

// Line is the transport behind a channel, opened with a capability token.
type Line interface {
	// Dial starts an outbound connection. It returns once the attempt is
	// underway; Answered and Done report its progress.
	Dial(ctx context.Context, addr Address) (Connection, error)

	// Close releases the line.
	Close() error
}

// Connection is one call attempt on a line.
//
// Answered is closed when the remote side picks up (or, for an inbound
// connection, after Accept). Done is closed when the connection ends.
// Hangup must be safe to call more than once.
type Connection interface {
	ID() string
	Answered() <-chan struct{}
	Done() <-chan struct{}
	// Err reports why the connection ended; nil for a normal hangup.
	Err() error
	Accept(ctx context.Context) error
	Hangup(ctx context.Context) error
	SetMuted(muted bool) error
}

// LineFactory opens a line for kind using a capability token. It returns
// an error wrapping ErrNotAuthorized when the token is rejected.
type LineFactory func(ctx context.Context, kind Kind, token string) (Line, error)

// Sink receives channel events. It must not block.
type Sink func(Event)

// Channel is one logical line carrying at most one live connection.
//
// Thread Safety: All methods are safe for concurrent use. Events for one
// channel reach the sink in emission order.
type Channel struct {
	kind    Kind
	factory LineFactory

	mu       sync.Mutex
	state    State
	line     Line
	conn     Connection
	incoming bool
	muted    bool
	reserved bool

	sinkMu sync.Mutex
	sink   Sink
}

// New creates an uninitialized channel.
func New(kind Kind, factory LineFactory) *Channel {
	return &Channel{kind: kind, factory: factory}
}

// Kind returns which leg this channel carries.
func (c *Channel) Kind() Kind { return c.kind }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Muted reports whether the live connection is muted.
func (c *Channel) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SetSink attaches the single consumer of this channel's events.
func (c *Channel) SetSink(sink Sink) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	c.sink = sink
}

// Open makes the channel ready using a capability token.
func (c *Channel) Open(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("%s channel: %w: empty capability token", c.kind, ErrNotAuthorized)
	}

	line, err := c.factory(ctx, c.kind, token)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("%s channel: open: %w", c.kind, err)
	}

	c.mu.Lock()
	old := c.line
	c.line = line
	if !c.state.IsLive() {
		c.state = StateReady
	}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	slog.Info("[Channel] Opened", "kind", c.kind.String())
	return nil
}

// Place starts an outbound connection and returns its id.
func (c *Channel) Place(ctx context.Context, addr Address) (string, error) {
	c.mu.Lock()
	if c.line == nil || !c.state.CanPlace() {
		st := c.state
		c.mu.Unlock()
		return "", &StateError{Kind: c.kind, Op: "place", State: st, Err: ErrNotReady}
	}
	c.state = StateConnecting
	line := c.line
	c.mu.Unlock()

	conn, err := line.Dial(ctx, addr)

	c.mu.Lock()
	if err != nil {
		c.state = StateFailed
		c.mu.Unlock()
		return "", fmt.Errorf("%s channel: dial %s: %w", c.kind, addr.To, err)
	}
	if c.state != StateConnecting {
		// Terminated while dialing.
		st := c.state
		c.mu.Unlock()
		_ = conn.Hangup(ctx)
		return "", &StateError{Kind: c.kind, Op: "place", State: st, Err: ErrNotReady}
	}
	c.conn = conn
	c.incoming = false
	c.mu.Unlock()

	slog.Debug("[Channel] Placing", "kind", c.kind.String(), "conn_id", conn.ID(), "to", addr.To)
	c.emit(Event{Kind: c.kind, Type: EventConnecting, ConnID: conn.ID()})
	go c.watch(conn)
	return conn.ID(), nil
}

// Reserve marks the channel as owned by a call session. A reserved channel
// still places connections but refuses inbound ones.
func (c *Channel) Reserve() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = true
}

// Release ends the reservation taken by Reserve.
func (c *Channel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved = false
}

// Reserved reports whether a call session owns the channel.
func (c *Channel) Reserved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserved
}

// Incoming hands an inbound connection to the channel. It fails with
// ErrBusy when a connection is already live or the channel is reserved;
// the caller rejects it.
func (c *Channel) Incoming(conn Connection, from string) error {
	c.mu.Lock()
	if c.line == nil {
		st := c.state
		c.mu.Unlock()
		return &StateError{Kind: c.kind, Op: "incoming", State: st, Err: ErrNotReady}
	}
	if c.state.IsLive() || c.reserved {
		st := c.state
		c.mu.Unlock()
		return &StateError{Kind: c.kind, Op: "incoming", State: st, Err: ErrBusy}
	}
	c.state = StateConnecting
	c.conn = conn
	c.incoming = true
	c.mu.Unlock()

	slog.Info("[Channel] Incoming connection", "kind", c.kind.String(), "conn_id", conn.ID(), "from", from)
	c.emit(Event{Kind: c.kind, Type: EventIncoming, ConnID: conn.ID(), From: from})
	go c.watch(conn)
	return nil
}

func (c *Channel) pendingIncoming() (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.incoming || c.state != StateConnecting {
		return nil, &StateError{Kind: c.kind, Op: "answer", State: c.state, Err: ErrNoIncoming}
	}
	return c.conn, nil
}

// Accept answers the pending incoming connection.
func (c *Channel) Accept(ctx context.Context) error {
	conn, err := c.pendingIncoming()
	if err != nil {
		return err
	}
	return conn.Accept(ctx)
}

// Reject refuses the pending incoming connection.
func (c *Channel) Reject(ctx context.Context) error {
	conn, err := c.pendingIncoming()
	if err != nil {
		return err
	}
	return conn.Hangup(ctx)
}

// TerminateAll hangs up the live connection, if any. Idempotent.
func (c *Channel) TerminateAll(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil && c.state == StateConnecting {
		// Place is mid-dial; it will see this and hang up.
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Hangup(ctx); err != nil {
		slog.Warn("[Channel] Hangup failed",
			"kind", c.kind.String(),
			"conn_id", conn.ID(),
			"error", err,
		)
	}
}

// Mute mutes or unmutes the active connection.
func (c *Channel) Mute(flag bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive || c.conn == nil {
		return &StateError{Kind: c.kind, Op: "mute", State: c.state, Err: ErrNotActive}
	}
	if err := c.conn.SetMuted(flag); err != nil {
		return fmt.Errorf("%s channel: mute: %w", c.kind, err)
	}
	c.muted = flag
	return nil
}

// Close tears down the connection and the line.
func (c *Channel) Close(ctx context.Context) error {
	c.TerminateAll(ctx)

	c.mu.Lock()
	line := c.line
	c.line = nil
	c.state = StateUninitialized
	c.mu.Unlock()

	if line == nil {
		return nil
	}
	return line.Close()
}

func (c *Channel) watch(conn Connection) {
	select {
	case <-conn.Answered():
		if c.settle(conn, StateActive) {
			c.emit(Event{Kind: c.kind, Type: EventConnected, ConnID: conn.ID()})
		}
		<-conn.Done()
	case <-conn.Done():
	}

	final := StateDisconnected
	if conn.Err() != nil {
		final = StateFailed
	}
	c.settle(conn, final)

	slog.Debug("[Channel] Connection ended",
		"kind", c.kind.String(),
		"conn_id", conn.ID(),
		"error", conn.Err(),
	)
	c.emit(Event{Kind: c.kind, Type: EventDisconnected, ConnID: conn.ID(), Err: conn.Err()})
}

// settle moves the channel to st if conn is still its connection.
func (c *Channel) settle(conn Connection, st State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	if c.state == StateUninitialized {
		// Closed; keep the channel closed.
		if !st.IsLive() {
			c.conn = nil
		}
		return false
	}
	c.state = st
	if !st.IsLive() {
		c.conn = nil
		c.incoming = false
		c.muted = false
	}
	return true
}

func (c *Channel) emit(ev Event) {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if c.sink != nil {
		c.sink(ev)
	}
}

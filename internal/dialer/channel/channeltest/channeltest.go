// Package channeltest provides in-memory lines and connections for tests
// of code built on package channel.
package channeltest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sebas/dialer/internal/dialer/channel"
)

// Conn is a scripted connection. Tests drive it with Answer and Drop.
type Conn struct {
	id   string
	Addr channel.Address

	answered   chan struct{}
	done       chan struct{}
	answerOnce sync.Once
	doneOnce   sync.Once

	mu       sync.Mutex
	err      error
	muted    bool
	accepted bool
	hangups  int
}

// NewConn creates a pending connection.
func NewConn(id string) *Conn {
	return &Conn{
		id:       id,
		answered: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) Answered() <-chan struct{} { return c.answered }
func (c *Conn) Done() <-chan struct{}     { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Answer simulates the remote side picking up.
func (c *Conn) Answer() {
	c.answerOnce.Do(func() { close(c.answered) })
}

// Drop simulates the connection ending; err nil is a normal hangup.
func (c *Conn) Drop(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) Accept(ctx context.Context) error {
	c.mu.Lock()
	c.accepted = true
	c.mu.Unlock()
	c.Answer()
	return nil
}

func (c *Conn) Hangup(ctx context.Context) error {
	c.mu.Lock()
	c.hangups++
	c.mu.Unlock()
	c.Drop(nil)
	return nil
}

func (c *Conn) SetMuted(muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	return nil
}

// Muted reports the last SetMuted value.
func (c *Conn) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Accepted reports whether Accept was called.
func (c *Conn) Accepted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Hangups returns how many times Hangup was called.
func (c *Conn) Hangups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangups
}

// Ended reports whether Done is closed.
func (c *Conn) Ended() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Line records dials and hands out Conns.
type Line struct {
	kind channel.Kind

	mu      sync.Mutex
	conns   []*Conn
	dialErr error
	closed  bool
	dialed  chan *Conn
}

// NewLine creates a line for kind.
func NewLine(kind channel.Kind) *Line {
	return &Line{kind: kind, dialed: make(chan *Conn, 64)}
}

func (l *Line) Dial(ctx context.Context, addr channel.Address) (channel.Connection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dialErr != nil {
		return nil, l.dialErr
	}
	conn := NewConn(fmt.Sprintf("%s-%d", l.kind, len(l.conns)+1))
	conn.Addr = addr
	l.conns = append(l.conns, conn)
	select {
	case l.dialed <- conn:
	default:
	}
	return conn, nil
}

func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// SetDialErr makes later dials fail with err.
func (l *Line) SetDialErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dialErr = err
}

// Conns returns every connection dialed so far.
func (l *Line) Conns() []*Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Conn, len(l.conns))
	copy(out, l.conns)
	return out
}

// Dialed delivers each connection as it is dialed.
func (l *Line) Dialed() <-chan *Conn { return l.dialed }

// Closed reports whether Close was called.
func (l *Line) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Factory opens the two test lines and validates tokens.
type Factory struct {
	internal *Line
	external *Line

	mu sync.Mutex
	// ValidToken, when set, is the only token accepted.
	ValidToken string
	opens      int
}

// NewFactory creates a factory with fresh lines for both kinds.
func NewFactory() *Factory {
	return &Factory{
		internal: NewLine(channel.KindInternal),
		external: NewLine(channel.KindExternal),
	}
}

// Open implements channel.LineFactory.
func (f *Factory) Open(ctx context.Context, kind channel.Kind, token string) (channel.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.ValidToken != "" && token != f.ValidToken {
		return nil, fmt.Errorf("token %q: %w", token, channel.ErrNotAuthorized)
	}
	return f.Line(kind), nil
}

// Line returns the line for kind.
func (f *Factory) Line(kind channel.Kind) *Line {
	if kind == channel.KindExternal {
		return f.external
	}
	return f.internal
}

// Opens returns how many lines were requested.
func (f *Factory) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// ErrUnavailable is returned by Capabilities while failing.
var ErrUnavailable = errors.New("capability service unavailable")

// Capabilities hands out a fixed token after a number of failures.
type Capabilities struct {
	mu       sync.Mutex
	token    string
	failures int
	calls    int
}

// NewCapabilities returns a source that fails the first failures calls.
func NewCapabilities(token string, failures int) *Capabilities {
	return &Capabilities{token: token, failures: failures}
}

func (c *Capabilities) AcquireCallCapability(ctx context.Context, kind channel.Kind) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		return "", ErrUnavailable
	}
	return c.token, nil
}

// Calls returns how many tokens were requested.
func (c *Capabilities) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/clock"
	"github.com/sebas/dialer/internal/dialer/events"
)

// Leg is the subset of *channel.Channel the manager drives.
type Leg interface {
	Place(ctx context.Context, addr channel.Address) (string, error)
	TerminateAll(ctx context.Context)
	Mute(flag bool) error
	Muted() bool
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Reserve()
	Release()
}

// ProviderOriginator asks the telephony provider to originate the external leg.
type ProviderOriginator interface {
	OriginateProviderCall(ctx context.Context, providerProfileID, phoneTargetID string) error
}

const (
	// DefaultSettleDelay separates internal connect from external placement.
	DefaultSettleDelay = 1500 * time.Millisecond
	// DefaultCleanupTimeout bounds how long teardown waits for legs to report.
	DefaultCleanupTimeout = 10 * time.Second
)

// Config holds Manager configuration.
type Config struct {
	OperatorID     string
	SettleDelay    time.Duration
	CleanupTimeout time.Duration
	Clock          clock.Clock
	Events         *events.Builder
	Publisher      events.Publisher
	Provider       ProviderOriginator
	// Ready gates new calls; it returns an error wrapping
	// channel.ErrCallingDisabled once capabilities are lost.
	Ready func() error
}

// Manager owns the operator's single call session.
//
// All state changes happen on the goroutine running Run. Commands, channel
// events and timer fires are posted to one queue and applied in order.
type Manager struct {
	cfg     Config
	legs    [2]Leg
	box     *mailbox
	stopped chan struct{}
	runOnce sync.Once

	// Owned by the Run goroutine.
	ctx     context.Context
	state   State
	call    *Call
	settle  clock.Timer
	cleanup clock.Timer

	mu       sync.RWMutex
	snapshot Snapshot
	current  *Call
}

// NewManager creates a manager driving the internal and external legs.
func NewManager(cfg Config, internal, external Leg) *Manager {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = DefaultCleanupTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Events == nil {
		cfg.Events = events.NewBuilder("").WithOperator(cfg.OperatorID)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NewNoopPublisher()
	}
	m := &Manager{
		cfg:     cfg,
		box:     newMailbox(),
		stopped: make(chan struct{}),
		ctx:     context.Background(),
	}
	m.legs[channel.KindInternal] = internal
	m.legs[channel.KindExternal] = external
	m.snapshot = Snapshot{Status: StatusIdle}
	return m
}

// Run processes the session queue until ctx is done. On exit any call in
// progress is torn down.
func (m *Manager) Run(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("session manager already started")
	}
	defer close(m.stopped)

	m.ctx = ctx
	slog.Info("[Session] Manager started", "operator", m.cfg.OperatorID)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.box.signal:
			for _, fn := range m.box.drain() {
				fn()
			}
		}
	}
}

// HandleChannelEvent is the sink for both channels.
func (m *Manager) HandleChannelEvent(ev channel.Event) {
	m.box.post(func() { m.onChannelEvent(ev) })
}

// PlaceOutbound starts a two-leg call to target.
func (m *Manager) PlaceOutbound(ctx context.Context, target Target) (*Call, error) {
	return m.start(ctx, InputPlace, ModeOutbound, target)
}

// Join bridges the operator into a conversation without an external leg.
func (m *Manager) Join(ctx context.Context, target Target) (*Call, error) {
	return m.start(ctx, InputJoin, ModeJoin, target)
}

func (m *Manager) start(ctx context.Context, kind InputKind, mode Mode, target Target) (*Call, error) {
	if m.cfg.Ready != nil {
		if err := m.cfg.Ready(); err != nil {
			return nil, err
		}
	}

	var call *Call
	err := m.do(ctx, func() error {
		if m.state.Status != StatusIdle {
			return &TransitionError{From: m.state.Status, Input: kind, Err: ErrSessionActive}
		}
		call = m.newCall(mode, target, "")
		m.call = call
		m.reserveLegs(true)
		if err := m.apply(Input{Kind: kind}); err != nil {
			m.reserveLegs(false)
			m.call = nil
			call = nil
			return err
		}
		return nil
	})
	return call, err
}

// Answer accepts a ringing inbound call.
func (m *Manager) Answer(ctx context.Context) error {
	return m.do(ctx, func() error { return m.apply(Input{Kind: InputAnswer}) })
}

// Decline rejects a ringing inbound call; on any other active call it hangs up.
func (m *Manager) Decline(ctx context.Context) error {
	return m.do(ctx, func() error { return m.apply(Input{Kind: InputDecline}) })
}

// Hangup tears down the current call. Hanging up while already
// disconnecting is a no-op.
func (m *Manager) Hangup(ctx context.Context) error {
	return m.do(ctx, func() error { return m.apply(Input{Kind: InputHangup}) })
}

// Mute mutes or unmutes one leg. The leg must be active.
func (m *Manager) Mute(ctx context.Context, kind channel.Kind, flag bool) error {
	return m.do(ctx, func() error {
		return m.apply(Input{Kind: InputMute, Leg: kind, Muted: flag})
	})
}

// Status returns a snapshot of the session.
func (m *Manager) Status() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Current returns the call in progress, or nil when idle.
func (m *Manager) Current() *Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// WaitIdle blocks until no call is in progress.
func (m *Manager) WaitIdle(ctx context.Context) error {
	for {
		call := m.Current()
		if call == nil {
			return nil
		}
		select {
		case <-call.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopped:
			return ErrStopped
		}
	}
}

// do runs fn on the Run goroutine. A command either runs and reports its
// result, or is dropped and reports ctx.Err(); never both.
func (m *Manager) do(ctx context.Context, fn func() error) error {
	var claimed atomic.Bool
	reply := make(chan error, 1)
	m.box.post(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		reply <- fn()
	})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		// Already running.
		select {
		case err := <-reply:
			return err
		case <-m.stopped:
			return ErrStopped
		}
	case <-m.stopped:
		return ErrStopped
	}
}

func (m *Manager) onChannelEvent(ev channel.Event) {
	var in Input
	switch ev.Type {
	case channel.EventConnecting:
		slog.Debug("[Session] Leg connecting", "leg", ev.Kind.String(), "conn_id", ev.ConnID)
		return
	case channel.EventConnected:
		in = Input{Kind: InputLegConnected, Leg: ev.Kind, ConnID: ev.ConnID}
	case channel.EventDisconnected:
		in = Input{Kind: InputLegDisconnected, Leg: ev.Kind, ConnID: ev.ConnID, Err: ev.Err}
	case channel.EventIncoming:
		if m.state.Status == StatusIdle {
			m.call = m.newCall(ModeInbound, Target{}, ev.From)
			m.reserveLegs(true)
		}
		in = Input{Kind: InputIncoming, Leg: ev.Kind, ConnID: ev.ConnID}
	default:
		return
	}
	if err := m.apply(in); err != nil {
		slog.Warn("[Session] Channel event rejected", "leg", ev.Kind.String(), "type", ev.Type.String(), "error", err)
	}
}

func (m *Manager) newCall(mode Mode, target Target, from string) *Call {
	return &Call{
		ID:        uuid.New().String(),
		Mode:      mode,
		Target:    target,
		From:      from,
		StartedAt: m.cfg.Clock.Now(),
		done:      make(chan struct{}),
	}
}

// apply runs one input through Transition and executes its effects. Effects
// may feed follow-up inputs back through apply. The first effect error is
// returned to the caller.
func (m *Manager) apply(in Input) error {
	prev := m.state
	next, effects, err := Transition(m.state, in)
	if err != nil {
		return err
	}
	m.state = next

	if prev.Status != next.Status {
		m.statusChanged(prev.Status, next.Status, in)
	}
	var effErr error
	for _, eff := range effects {
		if err := m.execute(eff); err != nil && effErr == nil {
			effErr = err
		}
	}
	m.publishSnapshot()
	return effErr
}

func (m *Manager) execute(eff Effect) error {
	switch eff.Kind {
	case EffectDialInternal:
		m.dial(channel.KindInternal, eff.Generation)

	case EffectDialExternal:
		if m.call != nil && m.call.Target.ProviderProfileID != "" && m.cfg.Provider != nil {
			t := m.call.Target
			if err := m.cfg.Provider.OriginateProviderCall(m.ctx, t.ProviderProfileID, t.PhoneTargetID); err != nil {
				slog.Warn("[Session] Provider origination failed",
					"call_id", m.call.ID,
					"provider_profile_id", t.ProviderProfileID,
					"error", err,
				)
				m.feed(Input{Kind: InputLegFailed, Leg: channel.KindExternal, Generation: eff.Generation, Err: err})
				return nil
			}
		}
		m.dial(channel.KindExternal, eff.Generation)

	case EffectScheduleSettle:
		m.stopTimer(&m.settle)
		gen := eff.Generation
		m.settle = m.cfg.Clock.AfterFunc(m.cfg.SettleDelay, func() {
			m.box.post(func() { m.feed(Input{Kind: InputSettleElapsed, Generation: gen}) })
		})

	case EffectCancelSettle:
		m.stopTimer(&m.settle)

	case EffectTerminateAll:
		for _, kind := range channel.Kinds {
			m.legs[kind].TerminateAll(m.ctx)
		}

	case EffectAcceptIncoming:
		if err := m.legs[eff.Leg].Accept(m.ctx); err != nil {
			slog.Warn("[Session] Accept failed", "leg", eff.Leg.String(), "error", err)
			m.feed(Input{Kind: InputLegFailed, Leg: eff.Leg, ConnID: eff.ConnID, Generation: eff.Generation, Err: err})
		}

	case EffectRejectIncoming:
		if err := m.legs[eff.Leg].Reject(m.ctx); err != nil {
			slog.Warn("[Session] Reject failed", "leg", eff.Leg.String(), "conn_id", eff.ConnID, "error", err)
		}

	case EffectScheduleCleanup:
		m.stopTimer(&m.cleanup)
		gen := eff.Generation
		m.cleanup = m.cfg.Clock.AfterFunc(m.cfg.CleanupTimeout, func() {
			m.box.post(func() {
				if m.state.Generation == gen && m.state.Status == StatusDisconnected {
					slog.Warn("[Session] Legs did not report teardown, forcing cleanup", "generation", gen)
				}
				m.feed(Input{Kind: InputCleanup, Generation: gen})
			})
		})

	case EffectCleanup:
		m.feed(Input{Kind: InputCleanup, Generation: eff.Generation})

	case EffectNotifyEnded:
		m.stopTimer(&m.cleanup)
		m.finishCall()

	case EffectMute:
		if err := m.legs[eff.Leg].Mute(eff.Muted); err != nil {
			if m.state.Generation == eff.Generation {
				m.state.Legs[eff.Leg].Muted = m.legs[eff.Leg].Muted()
			}
			return err
		}
	}
	return nil
}

func (m *Manager) reserveLegs(on bool) {
	for _, kind := range channel.Kinds {
		if on {
			m.legs[kind].Reserve()
		} else {
			m.legs[kind].Release()
		}
	}
}

func (m *Manager) dial(kind channel.Kind, gen uint64) {
	if m.call == nil {
		return
	}
	addr := InternalAddress(m.cfg.OperatorID, m.call.Target)
	if kind == channel.KindExternal {
		addr = ExternalAddress(m.cfg.OperatorID, m.call.Target)
	}

	connID, err := m.legs[kind].Place(m.ctx, addr)
	if err != nil {
		slog.Warn("[Session] Dial failed", "call_id", m.call.ID, "leg", kind.String(), "error", err)
		m.feed(Input{Kind: InputLegFailed, Leg: kind, Generation: gen, Err: err})
		return
	}
	slog.Info("[Session] Leg placed", "call_id", m.call.ID, "leg", kind.String(), "conn_id", connID, "to", addr.To)
	m.feed(Input{Kind: InputLegPlaced, Leg: kind, ConnID: connID, Generation: gen})
}

// feed applies an internally generated input; those never fail.
func (m *Manager) feed(in Input) {
	if err := m.apply(in); err != nil {
		slog.Error("[Session] Internal input rejected", "input", in.Kind.String(), "error", err)
	}
}

func (m *Manager) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Manager) statusChanged(from, to Status, in Input) {
	call := m.call
	if call == nil {
		return
	}
	now := m.cfg.Clock.Now()

	switch to {
	case StatusConnected:
		call.connectedAt = now
	case StatusDisconnected:
		call.cause = causeOf(in)
	}

	slog.Info("[Session] Status changed",
		"operator", m.cfg.OperatorID,
		"call_id", call.ID,
		"from", from.String(),
		"to", to.String(),
		"input", in.Kind.String(),
	)

	internal, external := m.state.Legs[channel.KindInternal].ConnID, m.state.Legs[channel.KindExternal].ConnID
	m.cfg.Publisher.PublishAsync(m.cfg.Events.CallStatus(call.ID).
		Transition(from.String(), to.String()).
		Mode(call.Mode.String()).
		Context(call.Target.ConversationID, call.Target.TicketID, call.Target.CustomerID).
		Connections(internal, external).
		Build())
}

func (m *Manager) finishCall() {
	call := m.call
	if call == nil {
		return
	}
	m.call = nil
	m.stopTimer(&m.settle)
	m.reserveLegs(false)

	now := m.cfg.Clock.Now()
	res := Result{
		Cause:     call.cause,
		Connected: !call.connectedAt.IsZero(),
		Duration:  now.Sub(call.StartedAt),
	}
	if res.Connected {
		res.TalkTime = now.Sub(call.connectedAt)
	}
	if res.Cause == "" {
		res.Cause = "unknown"
	}
	call.result = res

	slog.Info("[Session] Call ended",
		"operator", m.cfg.OperatorID,
		"call_id", call.ID,
		"cause", res.Cause,
		"connected", res.Connected,
		"duration", res.Duration,
	)
	m.cfg.Publisher.PublishAsync(m.cfg.Events.CallEnded(call.ID).
		Context(call.Target.ConversationID, call.Target.TicketID).
		Cause(res.Cause).
		Durations(res.Duration, res.TalkTime).
		Build())

	// Clear current before closing Done so waiters observe idle.
	m.publishSnapshot()
	close(call.done)
}

func (m *Manager) publishSnapshot() {
	snap := Snapshot{
		Status:         m.state.Status,
		Mode:           m.state.Mode,
		InternalConnID: m.state.Legs[channel.KindInternal].ConnID,
		ExternalConnID: m.state.Legs[channel.KindExternal].ConnID,
		InternalMuted:  m.state.Legs[channel.KindInternal].Muted,
		ExternalMuted:  m.state.Legs[channel.KindExternal].Muted,
	}
	if m.call != nil {
		target := m.call.Target
		snap.CallID = m.call.ID
		snap.Mode = m.call.Mode
		snap.Target = &target
		snap.From = m.call.From
		snap.StartedAt = m.call.StartedAt
	}

	m.mu.Lock()
	m.snapshot = snap
	m.current = m.call
	m.mu.Unlock()
}

// shutdown tears down any call when Run exits.
func (m *Manager) shutdown() {
	if m.call == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.ctx = ctx

	slog.Info("[Session] Shutting down with call in progress", "call_id", m.call.ID)
	m.stopTimer(&m.settle)
	m.stopTimer(&m.cleanup)
	for _, kind := range channel.Kinds {
		m.legs[kind].TerminateAll(ctx)
	}
	m.call.cause = "shutdown"
	m.state = State{Status: StatusIdle, Generation: m.state.Generation}
	m.finishCall()
}

func causeOf(in Input) string {
	switch in.Kind {
	case InputLegDisconnected:
		if in.Err != nil {
			return in.Leg.String() + "_failed"
		}
		return in.Leg.String() + "_hangup"
	case InputLegFailed:
		return in.Leg.String() + "_dial_failed"
	case InputHangup:
		return "operator_hangup"
	case InputDecline:
		return "declined"
	default:
		return in.Kind.String()
	}
}

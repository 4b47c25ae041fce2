package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/dialer/internal/dialer/channel"
	"github.com/sebas/dialer/internal/dialer/channel/channeltest"
	"github.com/sebas/dialer/internal/dialer/clock"
	"github.com/sebas/dialer/internal/dialer/events"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (p *fakeProvider) OriginateProviderCall(ctx context.Context, profileID, phoneTargetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, profileID+"/"+phoneTargetID)
	return p.err
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type rig struct {
	m        *Manager
	dev      *channel.Device
	factory  *channeltest.Factory
	clk      *clock.FakeClock
	pub      *events.MemoryPublisher
	provider *fakeProvider
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		factory:  channeltest.NewFactory(),
		clk:      clock.Fake(epoch),
		pub:      events.NewMemoryPublisher(),
		provider: &fakeProvider{},
	}
	r.dev = channel.NewDevice(channeltest.NewCapabilities("tok", 0), r.factory.Open)
	if err := r.dev.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	r.m = NewManager(Config{
		OperatorID: "op-1",
		Clock:      r.clk,
		Publisher:  r.pub,
		Provider:   r.provider,
		Ready:      r.dev.Ready,
	}, r.dev.Channel(channel.KindInternal), r.dev.Channel(channel.KindExternal))
	for _, kind := range channel.Kinds {
		r.dev.Channel(kind).SetSink(r.m.HandleChannelEvent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func (r *rig) line(kind channel.Kind) *channeltest.Line {
	return r.factory.Line(kind)
}

func waitDial(t *testing.T, line *channeltest.Line) *channeltest.Conn {
	t.Helper()
	select {
	case c := <-line.Dialed():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

func expectNoDial(t *testing.T, line *channeltest.Line) {
	t.Helper()
	select {
	case c := <-line.Dialed():
		t.Fatalf("unexpected dial %s", c.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func waitStatus(t *testing.T, m *Manager, want Status) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := m.Status(); snap.Status == want {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Status() = %s, want %s", m.Status().Status, want)
	return Snapshot{}
}

func waitDone(t *testing.T, call *Call) Result {
	t.Helper()
	select {
	case <-call.Done():
		return call.Result()
	case <-time.After(2 * time.Second):
		t.Fatal("call never ended")
		return Result{}
	}
}

var target = Target{
	ConversationID: "conv-1",
	TicketID:       "ticket-1",
	CustomerID:     "cust-1",
	PhoneTargetID:  "phone-1",
	CompanyPhoneID: "company-1",
}

func TestOutboundCallLifecycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	call, err := r.m.PlaceOutbound(ctx, target)
	if err != nil {
		t.Fatalf("PlaceOutbound() error = %v", err)
	}
	in := waitDial(t, r.line(channel.KindInternal))
	if in.Addr.To != "op-1" || in.Addr.Params[ParamConversationID] != "conv-1" || in.Addr.Params[ParamOperatorID] != "op-1" {
		t.Errorf("internal address = %+v", in.Addr)
	}

	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)
	expectNoDial(t, r.line(channel.KindExternal))

	r.clk.Advance(DefaultSettleDelay)
	ex := waitDial(t, r.line(channel.KindExternal))
	if ex.Addr.To != "phone-1" || ex.Addr.Params[ParamCompanyPhoneID] != "company-1" {
		t.Errorf("external address = %+v", ex.Addr)
	}

	ex.Answer()
	snap := waitStatus(t, r.m, StatusConnected)
	if snap.CallID != call.ID || snap.InternalConnID != in.ID() || snap.ExternalConnID != ex.ID() {
		t.Errorf("snapshot = %+v", snap)
	}

	r.clk.Advance(30 * time.Second)
	ex.Drop(nil)
	res := waitDone(t, call)

	if res.Cause != "external_hangup" || !res.Connected || res.TalkTime != 30*time.Second {
		t.Errorf("Result() = %+v", res)
	}
	if !in.Ended() || in.Hangups() == 0 {
		t.Error("internal leg not torn down with external")
	}
	if got := r.m.Status().Status; got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}
	if r.m.Current() != nil {
		t.Error("Current() != nil after call ended")
	}
	if got := len(r.pub.OfType(events.CallEnded)); got != 1 {
		t.Errorf("call.ended events = %d, want 1", got)
	}
	if got := len(r.provider.Calls()); got != 0 {
		t.Errorf("provider calls = %d, want 0 without a profile", got)
	}
}

func TestEarlyDisconnectCancelsSettle(t *testing.T) {
	r := newRig(t)

	call, err := r.m.PlaceOutbound(context.Background(), target)
	if err != nil {
		t.Fatal(err)
	}
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)
	if got := r.clk.Pending(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}

	in.Drop(errors.New("bridge lost"))
	res := waitDone(t, call)
	if res.Cause != "internal_failed" {
		t.Errorf("Cause = %q, want internal_failed", res.Cause)
	}
	if got := r.clk.Pending(); got != 0 {
		t.Errorf("pending timers = %d after teardown, want 0", got)
	}

	r.clk.Advance(time.Minute)
	expectNoDial(t, r.line(channel.KindExternal))
}

func TestSecondCallRejectedWhileActive(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.m.PlaceOutbound(ctx, target); err != nil {
		t.Fatal(err)
	}
	_, err := r.m.PlaceOutbound(ctx, target)
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second PlaceOutbound() = %v, want ErrSessionActive", err)
	}
	if _, err := r.m.Join(ctx, target); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Join() = %v, want ErrSessionActive", err)
	}
	if got := len(r.line(channel.KindInternal).Conns()); got != 1 {
		t.Errorf("internal dials = %d, want 1", got)
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	call, _ := r.m.PlaceOutbound(ctx, target)
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)

	if err := r.m.Hangup(ctx); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	res := waitDone(t, call)
	if res.Cause != "operator_hangup" {
		t.Errorf("Cause = %q, want operator_hangup", res.Cause)
	}
	if err := r.m.Hangup(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("Hangup() while idle = %v, want ErrNoSession", err)
	}
	if got := r.m.Status().Status; got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}
}

func TestJoinBridgesInternalOnly(t *testing.T) {
	r := newRig(t)

	call, err := r.m.Join(context.Background(), Target{ConversationID: "conv-7"})
	if err != nil {
		t.Fatal(err)
	}
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	snap := waitStatus(t, r.m, StatusConnected)
	if snap.Mode != ModeJoin {
		t.Errorf("Mode = %s, want join", snap.Mode)
	}
	r.clk.Advance(time.Minute)
	expectNoDial(t, r.line(channel.KindExternal))

	in.Drop(nil)
	waitDone(t, call)
}

func TestIncomingAnswerAndMute(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	conn := channeltest.NewConn("in-1")
	if err := r.dev.Channel(channel.KindExternal).Incoming(conn, "+15550100"); err != nil {
		t.Fatal(err)
	}
	snap := waitStatus(t, r.m, StatusIncoming)
	if snap.From != "+15550100" || snap.Mode != ModeInbound {
		t.Errorf("snapshot = %+v", snap)
	}
	call := r.m.Current()

	if err := r.m.Mute(ctx, channel.KindExternal, true); !errors.Is(err, channel.ErrNotActive) {
		t.Errorf("Mute() while ringing = %v, want ErrNotActive", err)
	}
	if err := r.m.Answer(ctx); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	waitStatus(t, r.m, StatusConnected)
	if !conn.Accepted() {
		t.Error("connection not accepted")
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.dev.Channel(channel.KindExternal).State() != channel.StateActive && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := r.m.Mute(ctx, channel.KindExternal, true); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	if !conn.Muted() || !r.m.Status().ExternalMuted {
		t.Error("external leg not muted")
	}

	conn.Drop(nil)
	if res := waitDone(t, call); res.Cause != "external_hangup" {
		t.Errorf("Cause = %q, want external_hangup", res.Cause)
	}
	if r.m.Status().ExternalMuted {
		t.Error("mute flag survived the call")
	}
}

func TestIncomingDecline(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	conn := channeltest.NewConn("in-2")
	if err := r.dev.Channel(channel.KindInternal).Incoming(conn, "agent-5"); err != nil {
		t.Fatal(err)
	}
	waitStatus(t, r.m, StatusIncoming)
	call := r.m.Current()

	if err := r.m.Decline(ctx); err != nil {
		t.Fatalf("Decline() error = %v", err)
	}
	if res := waitDone(t, call); res.Cause != "declined" || res.Connected {
		t.Errorf("Result() = %+v, want declined and never connected", res)
	}
	if conn.Accepted() || !conn.Ended() {
		t.Error("declined connection was accepted or left up")
	}
}

func TestAnswerWithoutIncoming(t *testing.T) {
	r := newRig(t)
	if err := r.m.Answer(context.Background()); !errors.Is(err, ErrNotIncoming) {
		t.Errorf("Answer() = %v, want ErrNotIncoming", err)
	}
}

func TestProviderOrigination(t *testing.T) {
	r := newRig(t)
	withProfile := target
	withProfile.ProviderProfileID = "profile-9"

	call, _ := r.m.PlaceOutbound(context.Background(), withProfile)
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)
	r.clk.Advance(DefaultSettleDelay)
	ex := waitDial(t, r.line(channel.KindExternal))

	if got := r.provider.Calls(); len(got) != 1 || got[0] != "profile-9/phone-1" {
		t.Errorf("provider calls = %v, want [profile-9/phone-1]", got)
	}
	ex.Drop(errors.New("busy"))
	if res := waitDone(t, call); res.Cause != "external_failed" {
		t.Errorf("Cause = %q, want external_failed", res.Cause)
	}
}

func TestProviderFailureEndsCall(t *testing.T) {
	r := newRig(t)
	r.provider.err = errors.New("provider rejected")
	withProfile := target
	withProfile.ProviderProfileID = "profile-9"

	call, _ := r.m.PlaceOutbound(context.Background(), withProfile)
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)
	r.clk.Advance(DefaultSettleDelay)

	res := waitDone(t, call)
	if res.Cause != "external_dial_failed" {
		t.Errorf("Cause = %q, want external_dial_failed", res.Cause)
	}
	if got := len(r.line(channel.KindExternal).Conns()); got != 0 {
		t.Errorf("external dials = %d, want 0", got)
	}
	if !in.Ended() {
		t.Error("internal leg left up")
	}
}

func TestInternalDialFailure(t *testing.T) {
	r := newRig(t)
	r.line(channel.KindInternal).SetDialErr(errors.New("503"))

	call, err := r.m.PlaceOutbound(context.Background(), target)
	if err != nil {
		t.Fatalf("PlaceOutbound() error = %v", err)
	}
	if res := waitDone(t, call); res.Cause != "internal_dial_failed" {
		t.Errorf("Cause = %q, want internal_dial_failed", res.Cause)
	}
	if got := r.m.Status().Status; got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}
}

func TestCallingDisabledGate(t *testing.T) {
	caps := channeltest.NewCapabilities("tok", 10)
	factory := channeltest.NewFactory()
	dev := channel.NewDevice(caps, factory.Open)
	_ = dev.Open(context.Background())

	m := NewManager(Config{OperatorID: "op-1", Ready: dev.Ready},
		dev.Channel(channel.KindInternal), dev.Channel(channel.KindExternal))

	_, err := m.PlaceOutbound(context.Background(), target)
	if !errors.Is(err, ErrCallingDisabled) {
		t.Errorf("PlaceOutbound() = %v, want ErrCallingDisabled", err)
	}
}

func TestStatusEventsPublished(t *testing.T) {
	r := newRig(t)

	call, _ := r.m.PlaceOutbound(context.Background(), target)
	in := waitDial(t, r.line(channel.KindInternal))
	in.Drop(nil)
	waitDone(t, call)

	var got []string
	for _, e := range r.pub.OfType(events.CallStatus) {
		got = append(got, e.(*events.CallStatusEvent).Status)
	}
	want := []string{"dialing_internal", "disconnected", "idle"}
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", got, want)
		}
	}
}

// stall blocks the manager goroutine until the returned func is called.
func stall(t *testing.T, m *Manager) func() {
	t.Helper()
	entered := make(chan struct{})
	release := make(chan struct{})
	m.box.post(func() {
		close(entered)
		<-release
	})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("manager never picked up the stall")
	}
	var once sync.Once
	return func() { once.Do(func() { close(release) }) }
}

func TestActiveCallReservesBothChannels(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	call, err := r.m.PlaceOutbound(ctx, target)
	if err != nil {
		t.Fatal(err)
	}
	in := waitDial(t, r.line(channel.KindInternal))
	in.Answer()
	waitStatus(t, r.m, StatusDialingExternal)

	release := stall(t, r.m)
	r.clk.Advance(DefaultSettleDelay)
	inbound := channeltest.NewConn("inbound-1")
	err = r.dev.Channel(channel.KindExternal).Incoming(inbound, "+15550111")
	release()
	if !errors.Is(err, channel.ErrBusy) {
		t.Fatalf("Incoming() during settle = %v, want ErrBusy", err)
	}

	ex := waitDial(t, r.line(channel.KindExternal))
	ex.Answer()
	waitStatus(t, r.m, StatusConnected)
	select {
	case <-call.Done():
		t.Fatalf("call ended: %+v", call.Result())
	default:
	}

	ex.Drop(nil)
	waitDone(t, call)
	for _, kind := range channel.Kinds {
		if r.dev.Channel(kind).Reserved() {
			t.Errorf("%s channel still reserved after the call", kind)
		}
	}

	if err := r.dev.Channel(channel.KindExternal).Incoming(channeltest.NewConn("inbound-2"), "+15550111"); err != nil {
		t.Fatalf("Incoming() after the call = %v", err)
	}
	waitStatus(t, r.m, StatusIncoming)
}

func TestCancelledCommandIsNotRun(t *testing.T) {
	r := newRig(t)

	release := stall(t, r.m)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	call, err := r.m.PlaceOutbound(ctx, target)
	release()
	if !errors.Is(err, context.Canceled) || call != nil {
		t.Fatalf("PlaceOutbound() = %v, %v; want nil, context.Canceled", call, err)
	}

	expectNoDial(t, r.line(channel.KindInternal))
	if got := r.m.Status().Status; got != StatusIdle {
		t.Errorf("Status() = %s, want idle", got)
	}
	if r.dev.Channel(channel.KindInternal).Reserved() {
		t.Error("internal channel reserved by a dropped command")
	}

	if _, err := r.m.PlaceOutbound(context.Background(), target); err != nil {
		t.Fatalf("PlaceOutbound() after drop = %v", err)
	}
	waitDial(t, r.line(channel.KindInternal))
}

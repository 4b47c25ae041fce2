// Package campaign runs autodial campaigns: claim the next target for a
// label, call it, and repeat until the label is exhausted or the operator
// stops the campaign.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/dialer/internal/dialer/clock"
	"github.com/sebas/dialer/internal/dialer/events"
	"github.com/sebas/dialer/internal/dialer/session"
	"github.com/sebas/dialer/internal/dialer/store"
)

// DefaultSkipLimit bounds consecutive undialable targets.
const DefaultSkipLimit = 5

// Target is a claimed ticket ready to be dialed.
type Target struct {
	TicketID          string `json:"ticketId"`
	PhoneTargetID     string `json:"phoneTargetId"`
	ConversationID    string `json:"conversationId"`
	ConversationToken string `json:"conversationToken"`
	CustomerID        string `json:"customerId"`
}

// Dialable reports whether the target carries a phone number.
func (t Target) Dialable() bool {
	return t.PhoneTargetID != ""
}

// Backend is the campaign side of the call-center backend.
type Backend interface {
	// ClaimNextTarget leases the next target for label. It returns an
	// error wrapping ErrNoTarget when none is left.
	ClaimNextTarget(ctx context.Context, labelID string, maxAttempts *int) (Target, error)
	// StopCampaign ends any server-side campaign. Idempotent.
	StopCampaign(ctx context.Context) error
}

// Dialer places campaign calls. *session.Manager implements it.
type Dialer interface {
	PlaceOutbound(ctx context.Context, target session.Target) (*session.Call, error)
	WaitIdle(ctx context.Context) error
}

// Options are the optional campaign parameters.
type Options struct {
	MaxAttempts    *int
	CompanyPhoneID string
}

// Config holds Controller configuration.
type Config struct {
	OperatorID string
	SkipLimit  int
	// ProviderProfiles maps provider names to provider profile ids. A
	// provider without an entry is dialed without provider origination.
	ProviderProfiles map[string]string
	Clock            clock.Clock
	Events           *events.Builder
	Publisher        events.Publisher
	// Ready gates every claim; it fails once calling is disabled.
	Ready func() error
}

// Status is a point-in-time view of the controller.
type Status struct {
	Running       bool            `json:"running"`
	Stopping      bool            `json:"stopping"`
	Skipped       int             `json:"skipped"`
	CurrentCallID string          `json:"currentCallId,omitempty"`
	Record        *store.Campaign `json:"record,omitempty"`
	LastStop      *StopInfo       `json:"lastStop,omitempty"`
}

// StopInfo records how the last campaign ended.
type StopInfo struct {
	LabelID string            `json:"labelId"`
	Reason  events.StopReason `json:"reason"`
	Message string            `json:"message,omitempty"`
	Cycles  int               `json:"cycles"`
	At      time.Time         `json:"at"`
}

// run is one campaign loop.
type run struct {
	labelID  string
	provider string
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}

	// Guarded by Controller.mu.
	skipped int
	callID  string
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// Controller owns the operator's campaign. At most one loop runs at a
// time, so at most one claim is ever in flight.
type Controller struct {
	cfg     Config
	store   store.Store
	backend Backend
	dialer  Dialer

	mu       sync.Mutex
	current  *run
	lastStop *StopInfo
}

// NewController creates a controller.
func NewController(cfg Config, st store.Store, backend Backend, dialer Dialer) *Controller {
	if cfg.SkipLimit <= 0 {
		cfg.SkipLimit = DefaultSkipLimit
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
	return &Controller{cfg: cfg, store: st, backend: backend, dialer: dialer}
}

// Recover cleans up a campaign interrupted by a restart. An active record
// is never resumed: the backend campaign is stopped once and the record
// cleared.
func (c *Controller) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrCampaignRunning
	}
	return c.recoverLocked(ctx)
}

func (c *Controller) recoverLocked(ctx context.Context) error {
	rec, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("loading campaign: %w", err)
	}
	if rec == nil {
		return nil
	}
	if !rec.Active {
		return c.store.Clear()
	}

	slog.Warn("[Campaign] Interrupted campaign found, stopping it",
		"operator", c.cfg.OperatorID,
		"label_id", rec.LabelID,
		"cycles", rec.Cycles,
	)
	if err := c.backend.StopCampaign(ctx); err != nil {
		return fmt.Errorf("stopping interrupted campaign: %w", err)
	}
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clearing interrupted campaign: %w", err)
	}

	msg := "interrupted campaign was stopped"
	c.lastStop = &StopInfo{LabelID: rec.LabelID, Reason: events.StopReasonAborted, Message: msg, Cycles: rec.Cycles, At: c.cfg.Clock.Now()}
	c.cfg.Publisher.PublishAsync(c.cfg.Events.CampaignStopped(rec.LabelID, events.StopReasonAborted).
		Provider(rec.ProviderName).
		Message(msg).
		Progress(rec.Cycles, 0).
		Build())
	return nil
}

// Start persists a new campaign and starts its loop. The loop outlives
// ctx; use Stop or Close to end it.
func (c *Controller) Start(ctx context.Context, labelID, providerName string, opts Options) error {
	if labelID == "" {
		return ErrInvalidLabel
	}
	if c.cfg.Ready != nil {
		if err := c.cfg.Ready(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrCampaignRunning
	}
	if err := c.recoverLocked(ctx); err != nil {
		return err
	}

	now := c.cfg.Clock.Now()
	rec := store.Campaign{
		Active:         true,
		LabelID:        labelID,
		ProviderName:   providerName,
		MaxAttempts:    opts.MaxAttempts,
		CompanyPhoneID: opts.CompanyPhoneID,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.Save(rec); err != nil {
		return fmt.Errorf("persisting campaign: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		labelID:  labelID,
		provider: providerName,
		stop:     make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.current = r
	c.lastStop = nil

	slog.Info("[Campaign] Started",
		"operator", c.cfg.OperatorID,
		"label_id", labelID,
		"provider", providerName,
	)
	c.cfg.Publisher.PublishAsync(c.cfg.Events.CampaignStarted(labelID, providerName).Build())

	go c.loop(loopCtx, r)
	return nil
}

// Stop ends the campaign at the next loop boundary. A call in progress
// is left to finish. Stopping without a campaign is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	if r == nil {
		defer c.mu.Unlock()
		return c.recoverLocked(ctx)
	}
	c.mu.Unlock()

	r.requestStop()
	_, err := c.store.Update(func(rec *store.Campaign) error {
		rec.Active = false
		rec.UpdatedAt = c.cfg.Clock.Now()
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrNoCampaign) {
		return fmt.Errorf("marking campaign stopped: %w", err)
	}
	slog.Info("[Campaign] Stop requested", "operator", c.cfg.OperatorID, "label_id", r.labelID)
	return nil
}

// Wait blocks until the running campaign loop, if any, has exited.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts a running campaign and waits for its loop to exit.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	r.requestStop()
	r.cancel()
	return c.Wait(ctx)
}

// Status returns the controller state.
func (c *Controller) Status() Status {
	rec, err := c.store.Load()
	if err != nil {
		slog.Warn("[Campaign] Failed to load record for status", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Record: rec, LastStop: c.lastStop}
	if r := c.current; r != nil {
		st.Running = true
		st.Stopping = r.stopping()
		st.Skipped = r.skipped
		st.CurrentCallID = r.callID
	}
	return st
}

func (c *Controller) loop(ctx context.Context, r *run) {
	reason, err := c.iterate(ctx, r)
	c.finish(r, reason, err)
}

// iterate runs claim cycles until the campaign ends and reports why.
func (c *Controller) iterate(ctx context.Context, r *run) (events.StopReason, error) {
	for {
		if r.stopping() {
			if ctx.Err() != nil {
				return events.StopReasonAborted, ctx.Err()
			}
			return events.StopReasonCancelled, nil
		}

		rec, err := c.store.Load()
		if err != nil {
			return events.StopReasonAborted, fmt.Errorf("loading campaign: %w", err)
		}
		if rec == nil || !rec.Active {
			return events.StopReasonCancelled, nil
		}

		if c.cfg.Ready != nil {
			if err := c.cfg.Ready(); err != nil {
				return events.StopReasonCallingDisabled, err
			}
		}
		if err := c.dialer.WaitIdle(ctx); err != nil {
			return events.StopReasonAborted, err
		}

		target, err := c.backend.ClaimNextTarget(ctx, rec.LabelID, rec.MaxAttempts)
		if errors.Is(err, ErrNoTarget) {
			return events.StopReasonNoTarget, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return events.StopReasonAborted, ctx.Err()
			}
			return events.StopReasonClaimFailed, err
		}

		rec, err = c.store.Update(func(rec *store.Campaign) error {
			rec.Cycles++
			rec.LastTicketID = target.TicketID
			rec.UpdatedAt = c.cfg.Clock.Now()
			return nil
		})
		if err != nil {
			if errors.Is(err, store.ErrNoCampaign) {
				return events.StopReasonCancelled, nil
			}
			return events.StopReasonAborted, fmt.Errorf("updating campaign: %w", err)
		}

		if !target.Dialable() {
			c.mu.Lock()
			r.skipped++
			skipped := r.skipped
			c.mu.Unlock()

			slog.Warn("[Campaign] Claimed target has no phone number, skipping",
				"label_id", rec.LabelID,
				"ticket_id", target.TicketID,
				"consecutive", skipped,
			)
			if skipped >= c.cfg.SkipLimit {
				return events.StopReasonSkipLimit, ErrSkipLimit
			}
			continue
		}

		c.mu.Lock()
		r.skipped = 0
		c.mu.Unlock()

		if r.stopping() {
			continue
		}

		call, err := c.place(ctx, r, rec, target)
		if errors.Is(err, session.ErrCallingDisabled) {
			return events.StopReasonCallingDisabled, err
		}
		if err != nil {
			return events.StopReasonAborted, err
		}

		select {
		case <-call.Done():
		case <-ctx.Done():
			return events.StopReasonAborted, ctx.Err()
		}

		res := call.Result()
		slog.Info("[Campaign] Call finished",
			"label_id", rec.LabelID,
			"ticket_id", target.TicketID,
			"call_id", call.ID,
			"cause", res.Cause,
			"connected", res.Connected,
		)
		c.mu.Lock()
		r.callID = ""
		c.mu.Unlock()
	}
}

// place dials target, waiting out a call that started between the idle
// check and the placement.
func (c *Controller) place(ctx context.Context, r *run, rec *store.Campaign, target Target) (*session.Call, error) {
	st := session.Target{
		ConversationID:    target.ConversationID,
		TicketID:          target.TicketID,
		CustomerID:        target.CustomerID,
		AuthToken:         target.ConversationToken,
		PhoneTargetID:     target.PhoneTargetID,
		CompanyPhoneID:    rec.CompanyPhoneID,
		ProviderName:      rec.ProviderName,
		ProviderProfileID: c.cfg.ProviderProfiles[rec.ProviderName],
	}

	for {
		call, err := c.dialer.PlaceOutbound(ctx, st)
		if errors.Is(err, session.ErrSessionActive) {
			slog.Info("[Campaign] Operator busy, waiting before dialing", "ticket_id", target.TicketID)
			if err := c.dialer.WaitIdle(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		r.callID = call.ID
		c.mu.Unlock()
		slog.Info("[Campaign] Dialing",
			"label_id", rec.LabelID,
			"ticket_id", target.TicketID,
			"conversation_id", target.ConversationID,
			"call_id", call.ID,
		)
		return call, nil
	}
}

// finish stops the backend campaign, clears the record and reports the
// outcome.
func (c *Controller) finish(r *run, reason events.StopReason, cause error) {
	defer close(r.done)
	defer r.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := c.store.Load()
	if err != nil {
		slog.Error("[Campaign] Failed to load campaign record", "label_id", r.labelID, "error", err)
	}
	cycles := 0
	if rec != nil {
		cycles = rec.Cycles
	}

	if err := c.backend.StopCampaign(ctx); err != nil {
		slog.Warn("[Campaign] Backend stop failed", "label_id", r.labelID, "error", err)
	}
	if err := c.store.Clear(); err != nil {
		slog.Error("[Campaign] Failed to clear campaign record", "label_id", r.labelID, "error", err)
	}

	c.mu.Lock()
	skipped := r.skipped
	c.mu.Unlock()

	msg := stopMessage(reason)
	if cause != nil {
		err := &StopError{LabelID: r.labelID, Cycles: cycles, Err: cause}
		msg = err.Error()
		slog.Error("[Campaign] Stopped", "label_id", r.labelID, "reason", string(reason), "error", cause)
	} else {
		slog.Info("[Campaign] Stopped", "label_id", r.labelID, "reason", string(reason), "cycles", cycles)
	}

	c.cfg.Publisher.PublishAsync(c.cfg.Events.CampaignStopped(r.labelID, reason).
		Provider(r.provider).
		Message(msg).
		Progress(cycles, skipped).
		Build())

	c.mu.Lock()
	if c.current == r {
		c.current = nil
	}
	c.lastStop = &StopInfo{LabelID: r.labelID, Reason: reason, Message: msg, Cycles: cycles, At: c.cfg.Clock.Now()}
	c.mu.Unlock()
}

func stopMessage(reason events.StopReason) string {
	switch reason {
	case events.StopReasonNoTarget:
		return "no tickets for this label"
	case events.StopReasonCancelled:
		return "campaign stopped"
	default:
		return string(reason)
	}
}

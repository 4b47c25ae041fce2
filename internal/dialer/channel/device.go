package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// CapabilitySource issues the per-leg capability tokens.
type CapabilitySource interface {
	AcquireCallCapability(ctx context.Context, kind Kind) (string, error)
}

// maxOpenAttempts bounds automatic retries of capability acquisition.
const maxOpenAttempts = 2

// Device owns the operator's two channels.
//
// Opening is retried once; a second failure disables calling for the
// lifetime of the Device and every later Open or Ready returns an error
// wrapping ErrCallingDisabled.
type Device struct {
	caps     CapabilitySource
	internal *Channel
	external *Channel

	mu       sync.Mutex
	opened   bool
	disabled error
}

// NewDevice creates a device whose channels open lines through factory.
func NewDevice(caps CapabilitySource, factory LineFactory) *Device {
	return &Device{
		caps:     caps,
		internal: New(KindInternal, factory),
		external: New(KindExternal, factory),
	}
}

// Channel returns the channel for kind.
func (d *Device) Channel(kind Kind) *Channel {
	if kind == KindExternal {
		return d.external
	}
	return d.internal
}

// Open acquires capabilities and opens both channels.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disabled != nil {
		return d.disabled
	}
	if d.opened {
		return nil
	}

	var err error
	for attempt := 1; attempt <= maxOpenAttempts; attempt++ {
		if err = d.openAll(ctx); err == nil {
			d.opened = true
			slog.Info("[Device] Ready", "attempt", attempt)
			return nil
		}
		slog.Warn("[Device] Open failed", "attempt", attempt, "error", err)
	}

	d.disabled = fmt.Errorf("%w: %w", ErrCallingDisabled, err)
	slog.Error("[Device] Calling disabled until restart", "error", err)
	return d.disabled
}

func (d *Device) openAll(ctx context.Context) error {
	for _, kind := range Kinds {
		token, err := d.caps.AcquireCallCapability(ctx, kind)
		if err != nil {
			return fmt.Errorf("acquire %s capability: %w", kind, err)
		}
		if err := d.Channel(kind).Open(ctx, token); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether calls can be placed.
func (d *Device) Ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disabled != nil {
		return d.disabled
	}
	if !d.opened {
		return fmt.Errorf("device: %w: not opened", ErrNotReady)
	}
	return nil
}

// Close tears down both channels. The device can be opened again unless
// calling was disabled.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	d.opened = false
	d.mu.Unlock()

	var firstErr error
	for _, kind := range Kinds {
		if err := d.Channel(kind).Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscription is one consumer of a Broadcaster.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	b      *Broadcaster
	closed bool
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster is a Publisher that fans events out to in-process
// subscribers such as dashboard websockets. Slow subscribers drop events.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	bufSize int
	dropped atomic.Int64
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer bufSize events.
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Broadcaster{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a new consumer.
func (b *Broadcaster) Subscribe() *Subscription {
	ch := make(chan Event, b.bufSize)
	s := &Subscription{C: ch, ch: ch, b: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(b.subs, s)
	close(s.ch)
}

// Dropped returns the number of events lost to full subscriber buffers.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Subscribers returns the number of attached subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(ctx context.Context, event Event) error {
	b.PublishAsync(event)
	return nil
}

func (b *Broadcaster) PublishAsync(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
			slog.Warn("[Events] Subscriber buffer full, event dropped",
				"type", event.Type(),
				"event_id", event.ID(),
			)
		}
	}
}

func (b *Broadcaster) Flush(ctx context.Context) error { return nil }

// Close detaches every subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.closed = true
		close(s.ch)
	}
	b.subs = make(map[*Subscription]struct{})
	return nil
}

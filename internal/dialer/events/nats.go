package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sebas/dialer/internal/dialer/roster"
)

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// NATS server URL(s), comma-separated
	URL string
	// Async buffer size (default: 1000)
	AsyncBufferSize int
	// Connection timeout
	ConnectTimeout time.Duration
	// Reconnect settings
	MaxReconnects int
	ReconnectWait time.Duration
	// Auth
	CredsFile string
	Token     string
	User      string
	Password  string
}

// DefaultNATSConfig returns defaults suited to a single dashboard node.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		AsyncBufferSize: 1000,
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
	}
}

// Connect dials NATS with logging handlers attached.
func Connect(cfg NATSConfig, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("[NATS] Disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("[NATS] Reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			slog.Error("[NATS] Async error", "error", err)
		}),
	}

	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// NATSPublisher publishes events as JSON on their subject.
type NATSPublisher struct {
	conn    *nats.Conn
	asyncCh chan Event
	asyncWg sync.WaitGroup

	closedMu sync.RWMutex
	closed   bool

	mu           sync.Mutex
	publishCount int64
	errorCount   int64
	asyncDropped int64
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn *nats.Conn, bufSize int) *NATSPublisher {
	if bufSize <= 0 {
		bufSize = 1000
	}
	p := &NATSPublisher{
		conn:    conn,
		asyncCh: make(chan Event, bufSize),
	}
	p.asyncWg.Add(1)
	go p.asyncPublisher()
	return p
}

func (p *NATSPublisher) asyncPublisher() {
	defer p.asyncWg.Done()
	for event := range p.asyncCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Publish(ctx, event); err != nil {
			slog.Warn("[NATS] Async publish failed",
				"error", err,
				"type", event.Type(),
			)
		}
		cancel()
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := MarshalEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(event.Subject())
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID())

	if err := p.conn.PublishMsg(msg); err != nil {
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}

	p.mu.Lock()
	p.publishCount++
	p.mu.Unlock()
	return nil
}

func (p *NATSPublisher) PublishAsync(event Event) {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.asyncCh <- event:
	default:
		p.mu.Lock()
		p.asyncDropped++
		p.mu.Unlock()
		slog.Warn("[NATS] Async buffer full, event dropped", "type", event.Type())
	}
}

// Flush drains the async queue and flushes the connection. The publisher
// accepts no async events afterwards.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	p.closedMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.asyncCh)
	}
	p.closedMu.Unlock()
	p.asyncWg.Wait()

	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Flush(ctx); err != nil {
		slog.Warn("[NATS] Flush failed during close", "error", err)
	}
	return nil
}

// Stats returns publish counters.
func (p *NATSPublisher) Stats() (published, errors, asyncDropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishCount, p.errorCount, p.asyncDropped
}

// DecodePresence parses one presence message. A missing conversation id is
// taken from the last subject token.
func DecodePresence(subject string, data []byte) (roster.PresenceEvent, error) {
	var ev roster.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decode presence on %s: %w", subject, err)
	}
	if ev.ConversationID == "" && strings.HasPrefix(subject, SubjectPresence+".") {
		ev.ConversationID = subject[strings.LastIndex(subject, ".")+1:]
	}
	return ev, nil
}

// SubscribePresence streams presence events from NATS in receipt order
// until ctx is done, then closes the returned channel.
func SubscribePresence(ctx context.Context, conn *nats.Conn, pattern string) (<-chan roster.PresenceEvent, error) {
	if pattern == "" {
		pattern = PatternAllPresence
	}
	msgs := make(chan *nats.Msg, 256)
	sub, err := conn.ChanSubscribe(pattern, msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	out := make(chan roster.PresenceEvent, 64)
	go func() {
		defer close(out)
		defer func() {
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("[NATS] Unsubscribe failed", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				ev, err := DecodePresence(msg.Subject, msg.Data)
				if err != nil {
					slog.Warn("[NATS] Dropping presence message", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	slog.Info("[NATS] Presence subscription started", "subject", pattern)
	return out, nil
}

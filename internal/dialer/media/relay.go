package media

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Side names one end of a relay.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) other() Side { return 1 - s }

// String returns "a" or "b".
func (s Side) String() string {
	if s == SideA {
		return "a"
	}
	return "b"
}

// Relay forwards RTP between the streams attached to its two sides.
// Audio from a muted stream is forwarded as silence so the far side keeps
// a steady packet flow. While only one side is attached its packets are
// dropped.
//
// Thread Safety: All methods are safe for concurrent use.
type Relay struct {
	mu    sync.RWMutex
	sides [2]*Stream

	forwarded [2]atomic.Int64
}

// RelayStats counts packets forwarded from each side.
type RelayStats struct {
	FromA int64
	FromB int64
}

// NewRelay creates an empty relay.
func NewRelay() *Relay {
	return &Relay{}
}

// Attach puts s on side and starts reading from it. A stream previously
// on that side is detached but not closed.
func (r *Relay) Attach(side Side, s *Stream) {
	r.mu.Lock()
	r.sides[side] = s
	r.mu.Unlock()

	slog.Debug("[Relay] Attached", "side", side.String(), "stream", s.ID, "port", s.LocalPort())
	go r.pump(side, s)
}

// Detach clears side if s is still attached there.
func (r *Relay) Detach(side Side, s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sides[side] == s {
		r.sides[side] = nil
		slog.Debug("[Relay] Detached", "side", side.String(), "stream", s.ID)
	}
}

// Attached returns the stream on side, or nil.
func (r *Relay) Attached(side Side) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sides[side]
}

// Stats returns forwarding counters.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		FromA: r.forwarded[SideA].Load(),
		FromB: r.forwarded[SideB].Load(),
	}
}

func (r *Relay) pump(side Side, s *Stream) {
	buf := make([]byte, 1500)
	for {
		pkt, err := s.read(buf)
		if err != nil {
			if !s.closed.Load() {
				slog.Debug("[Relay] Read error", "side", side.String(), "stream", s.ID, "error", err)
			}
			r.Detach(side, s)
			return
		}

		if r.Attached(side) != s {
			return
		}
		peer := r.Attached(side.other())
		if peer == nil {
			continue
		}

		if s.Muted() {
			if pkt.PayloadType == CodecTelephoneEvent.PayloadType {
				continue
			}
			pkt.Payload = Silence(pkt.PayloadType, len(pkt.Payload))
		}

		if err := peer.Write(pkt); err != nil {
			slog.Debug("[Relay] Write error", "side", side.other().String(), "stream", peer.ID, "error", err)
			continue
		}
		if r.forwarded[side].Add(1) == 1 {
			slog.Info("[Relay] First packet", "from", side.String(), "to", peer.Remote())
		}
	}
}

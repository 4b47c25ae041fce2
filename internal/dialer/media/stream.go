package media

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// Stream is one leg's RTP socket. Packets written to it go to the remote
// endpoint with this stream's SSRC and a continuous sequence.
type Stream struct {
	ID string

	conn  *net.UDPConn
	port  int
	pool  *PortPool
	local string

	remote atomic.Pointer[net.UDPAddr]
	muted  atomic.Bool
	closed atomic.Bool

	mu       sync.Mutex
	ssrc     uint32
	seq      uint16
	tsOffset uint32
	tsSet    bool
	tracker  SequenceTracker

	packetsIn  atomic.Int64
	packetsOut atomic.Int64
}

// StreamStats is a snapshot of a stream's counters.
type StreamStats struct {
	PacketsIn  int64
	PacketsOut int64
	Lost       uint64
}

// OpenStream binds a UDP socket on a port from pool. localAddr is the
// address advertised in SDP.
func OpenStream(pool *PortPool, localAddr string) (*Stream, error) {
	port, err := pool.Allocate()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		pool.Release(port)
		return nil, fmt.Errorf("bind rtp port %d: %w", port, err)
	}

	return &Stream{
		ID:    "stream-" + uuid.New().String(),
		conn:  conn,
		port:  port,
		pool:  pool,
		local: localAddr,
		ssrc:  GenerateSSRC(),
		seq:   GenerateSequenceStart(),
	}, nil
}

// LocalAddr returns the advertised address.
func (s *Stream) LocalAddr() string { return s.local }

// LocalPort returns the bound RTP port.
func (s *Stream) LocalPort() int { return s.port }

// SetRemote sets where outgoing packets are sent.
func (s *Stream) SetRemote(ep Endpoint) error {
	ip := net.ParseIP(ep.Addr)
	if ip == nil {
		addrs, err := net.LookupIP(ep.Addr)
		if err != nil || len(addrs) == 0 {
			return fmt.Errorf("invalid remote address %q", ep.Addr)
		}
		ip = addrs[0]
	}
	s.remote.Store(&net.UDPAddr{IP: ip, Port: ep.Port})
	return nil
}

// Remote returns the current remote address, or nil.
func (s *Stream) Remote() *net.UDPAddr { return s.remote.Load() }

// SetMuted controls whether audio read from this stream is replaced with
// silence before it is relayed.
func (s *Stream) SetMuted(muted bool) { s.muted.Store(muted) }

// Muted reports the mute flag.
func (s *Stream) Muted() bool { return s.muted.Load() }

// Write sends pkt to the remote endpoint, rewriting SSRC, sequence and
// timestamp base. Packets are dropped while no remote is known.
func (s *Stream) Write(pkt *rtp.Packet) error {
	if s.closed.Load() {
		return ErrClosed
	}
	dst := s.remote.Load()
	if dst == nil {
		return nil
	}

	s.mu.Lock()
	if !s.tsSet {
		s.tsOffset = GenerateTimestampStart() - pkt.Timestamp
		s.tsSet = true
	}
	out := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         pkt.Marker,
			PayloadType:    pkt.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      pkt.Timestamp + s.tsOffset,
			SSRC:           s.ssrc,
		},
		Payload: pkt.Payload,
	}
	s.seq++
	s.mu.Unlock()

	raw, err := out.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	if _, err := s.conn.WriteToUDP(raw, dst); err != nil {
		return err
	}
	s.packetsOut.Add(1)
	return nil
}

// read blocks for the next RTP packet. Non-RTP datagrams are skipped.
func (s *Stream) read(buf []byte) (*rtp.Packet, error) {
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			slog.Debug("[Media] Dropping non-RTP datagram", "stream", s.ID, "size", n)
			continue
		}
		// Unmarshal aliases buf.
		pkt.Payload = append([]byte(nil), pkt.Payload...)

		s.mu.Lock()
		s.tracker.Update(pkt.SequenceNumber)
		s.mu.Unlock()
		s.packetsIn.Add(1)
		return pkt, nil
	}
}

// Stats returns the stream counters.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	_, lost := s.tracker.Stats()
	s.mu.Unlock()
	return StreamStats{
		PacketsIn:  s.packetsIn.Load(),
		PacketsOut: s.packetsOut.Load(),
		Lost:       lost,
	}
}

// Close releases the socket and its port. Idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Close()
	s.pool.Release(s.port)
	return err
}

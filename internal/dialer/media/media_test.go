package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/zaf/g711"
)

func TestPortPoolAllocatesEvenPorts(t *testing.T) {
	p := NewPortPool(20001, 20007)
	if p.Available() != 3 {
		t.Fatalf("Available() = %d, want 3", p.Available())
	}

	var got []int
	for i := 0; i < 3; i++ {
		port, err := p.Allocate()
		if err != nil {
			t.Fatalf("Allocate() error = %v", err)
		}
		got = append(got, port)
	}
	want := []int{20002, 20004, 20006}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("port[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if _, err := p.Allocate(); !errors.Is(err, ErrNoPorts) {
		t.Errorf("Allocate() on empty pool error = %v, want ErrNoPorts", err)
	}

	p.Release(20004)
	p.Release(20004)
	p.Release(30000)
	if p.Available() != 1 || p.Allocated() != 2 {
		t.Errorf("Available/Allocated = %d/%d, want 1/2", p.Available(), p.Allocated())
	}
	if port, _ := p.Allocate(); port != 20004 {
		t.Errorf("Allocate() after release = %d, want 20004", port)
	}
}

func TestOfferRoundTrip(t *testing.T) {
	body, err := BuildOffer("192.0.2.10", 20010, 42)
	if err != nil {
		t.Fatalf("BuildOffer() error = %v", err)
	}
	for _, want := range []string{"m=audio 20010 RTP/AVP 0 8 101", "a=rtpmap:0 PCMU/8000", "a=fmtp:101 0-15", "c=IN IP4 192.0.2.10"} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("offer missing %q:\n%s", want, body)
		}
	}

	remote, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("ParseRemote() error = %v", err)
	}
	if remote.Endpoint != (Endpoint{Addr: "192.0.2.10", Port: 20010}) {
		t.Errorf("Endpoint = %v, want 192.0.2.10:20010", remote.Endpoint)
	}
	if remote.Codec != CodecPCMU {
		t.Errorf("Codec = %v, want PCMU", remote.Codec.Name)
	}
	if !remote.DTMF {
		t.Error("DTMF = false, want true")
	}
}

func TestAnswerSelectsCodec(t *testing.T) {
	body, err := BuildAnswer("192.0.2.11", 20020, 7, CodecPCMA, false)
	if err != nil {
		t.Fatalf("BuildAnswer() error = %v", err)
	}
	remote, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("ParseRemote() error = %v", err)
	}
	if remote.Codec != CodecPCMA || remote.DTMF {
		t.Errorf("remote = %+v, want PCMA without DTMF", remote)
	}
}

func TestParseRemoteRejects(t *testing.T) {
	noCodec := "v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\ns=-\r\nc=IN IP4 192.0.2.1\r\nt=0 0\r\nm=audio 4000 RTP/AVP 18\r\n"
	noAudio := "v=0\r\no=- 1 1 IN IP4 192.0.2.1\r\ns=-\r\nc=IN IP4 192.0.2.1\r\nt=0 0\r\nm=video 4000 RTP/AVP 96\r\n"

	tests := []struct {
		name string
		body string
	}{
		{"unsupported codec", noCodec},
		{"no audio", noAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRemote([]byte(tt.body)); !errors.Is(err, ErrNoMedia) {
				t.Errorf("ParseRemote() error = %v, want ErrNoMedia", err)
			}
		})
	}

	if _, err := ParseRemote([]byte("garbage")); err == nil {
		t.Error("ParseRemote(garbage) error = nil, want error")
	}
}

func TestSilenceDecodesQuiet(t *testing.T) {
	tests := []struct {
		name   string
		pt     uint8
		decode func([]byte) []byte
	}{
		{"pcmu", CodecPCMU.PayloadType, g711.DecodeUlaw},
		{"pcma", CodecPCMA.PayloadType, g711.DecodeAlaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := Silence(tt.pt, 160)
			if len(payload) != 160 {
				t.Fatalf("len = %d, want 160", len(payload))
			}
			pcm := tt.decode(payload)
			for i := 0; i+1 < len(pcm); i += 2 {
				v := int16(binary.LittleEndian.Uint16(pcm[i:]))
				if v > 16 || v < -16 {
					t.Fatalf("sample %d = %d, want near zero", i/2, v)
				}
			}
		})
	}
}

func TestSequenceTracker(t *testing.T) {
	var s SequenceTracker
	for _, seq := range []uint16{65534, 65535, 1, 0, 2} {
		s.Update(seq)
	}
	received, lost := s.Stats()
	if received != 5 {
		t.Errorf("received = %d, want 5", received)
	}
	if lost != 1 {
		t.Errorf("lost = %d, want 1", lost)
	}
}

func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openStream(t *testing.T, pool *PortPool, peer *net.UDPConn) *Stream {
	t.Helper()
	s, err := OpenStream(pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	addr := peer.LocalAddr().(*net.UDPAddr)
	if err := s.SetRemote(Endpoint{Addr: "127.0.0.1", Port: addr.Port}); err != nil {
		t.Fatalf("SetRemote() error = %v", err)
	}
	return s
}

func sendRTP(t *testing.T, from *net.UDPConn, to *Stream, seq uint16, payload []byte) {
	t.Helper()
	pkt := rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 0, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: 99},
		Payload: payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: to.LocalPort()}
	if _, err := from.WriteToUDP(raw, dst); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recvRTP(t *testing.T, conn *net.UDPConn) *rtp.Packet {
	t.Helper()
	buf := make([]byte, 1500)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return pkt
}

func TestRelayForwardsAndMutes(t *testing.T) {
	pool := NewPortPool(41000, 41099)
	peerA, peerB := listenPeer(t), listenPeer(t)
	a, b := openStream(t, pool, peerA), openStream(t, pool, peerB)

	r := NewRelay()
	r.Attach(SideA, a)
	r.Attach(SideB, b)

	voice := bytes.Repeat([]byte{0x42}, 160)
	sendRTP(t, peerA, a, 1, voice)
	got := recvRTP(t, peerB)
	if !bytes.Equal(got.Payload, voice) {
		t.Errorf("forwarded payload changed")
	}
	if got.SSRC != b.ssrc {
		t.Errorf("SSRC = %d, want stream SSRC %d", got.SSRC, b.ssrc)
	}

	a.SetMuted(true)
	sendRTP(t, peerA, a, 2, voice)
	got = recvRTP(t, peerB)
	if !bytes.Equal(got.Payload, Silence(0, len(voice))) {
		t.Errorf("muted payload = %x..., want silence", got.Payload[:4])
	}

	// The other direction is unaffected by A's mute.
	sendRTP(t, peerB, b, 1, voice)
	got = recvRTP(t, peerA)
	if !bytes.Equal(got.Payload, voice) {
		t.Errorf("B->A payload changed")
	}

	stats := r.Stats()
	if stats.FromA != 2 || stats.FromB != 1 {
		t.Errorf("Stats() = %+v, want FromA 2 FromB 1", stats)
	}
}

func TestStreamCloseReleasesPort(t *testing.T) {
	pool := NewPortPool(41100, 41103)
	s, err := OpenStream(pool, "127.0.0.1")
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	if pool.Available() != 1 {
		t.Errorf("Available() = %d, want 1", pool.Available())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	_ = s.Close()
	if pool.Available() != 2 {
		t.Errorf("Available() after close = %d, want 2", pool.Available())
	}
	if err := s.Write(&rtp.Packet{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Write() after close error = %v, want ErrClosed", err)
	}
}

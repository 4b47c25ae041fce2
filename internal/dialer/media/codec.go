package media

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"time"

	"github.com/zaf/g711"
)

// Codec describes an audio payload format carried over RTP.
type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

var (
	// CodecPCMU is G.711 µ-law.
	CodecPCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}

	// CodecPCMA is G.711 A-law.
	CodecPCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}

	// CodecTelephoneEvent is RFC 4733 DTMF.
	CodecTelephoneEvent = Codec{"telephone-event", 101, 8000, 20 * time.Millisecond}
)

// offered lists the formats put in every SDP offer, in preference order.
var offered = []Codec{CodecPCMU, CodecPCMA, CodecTelephoneEvent}

// SamplesPerFrame returns the samples in one frame (160 for 8kHz/20ms).
func (c Codec) SamplesPerFrame() int {
	return int(c.SampleRate) * int(c.SampleDur) / int(time.Second)
}

// Format returns the payload type as an SDP format token.
func (c Codec) Format() string {
	return strconv.Itoa(int(c.PayloadType))
}

// CodecByPayloadType looks up an offered codec.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	for _, c := range offered {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// Silence returns n payload bytes of encoded silence for a payload type.
// G.711 silence is the encoding of zero-valued linear PCM; other formats
// get zero bytes.
func Silence(pt uint8, n int) []byte {
	pcm := make([]byte, n*2)
	switch pt {
	case CodecPCMU.PayloadType:
		return g711.EncodeUlaw(pcm)
	case CodecPCMA.PayloadType:
		return g711.EncodeAlaw(pcm)
	default:
		return make([]byte, n)
	}
}

// GenerateSSRC returns a random 32-bit SSRC.
func GenerateSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

// GenerateSequenceStart returns a random initial sequence number.
func GenerateSequenceStart() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// GenerateTimestampStart returns a random initial timestamp.
func GenerateTimestampStart() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

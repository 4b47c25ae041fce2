package media

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"
)

// Endpoint is a remote RTP address taken from an SDP body.
type Endpoint struct {
	Addr string
	Port int
}

// String returns addr:port.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

var rtpmap = map[uint8]string{
	0:   "PCMU/8000",
	8:   "PCMA/8000",
	101: "telephone-event/8000",
}

// BuildOffer creates an SDP offer for a local RTP endpoint carrying every
// supported codec.
func BuildOffer(addr string, port int, sessionID uint64) ([]byte, error) {
	return build(addr, port, sessionID, offered)
}

// BuildAnswer creates an SDP answer selecting one codec, plus DTMF when
// the offer carried it.
func BuildAnswer(addr string, port int, sessionID uint64, codec Codec, dtmf bool) ([]byte, error) {
	codecs := []Codec{codec}
	if dtmf {
		codecs = append(codecs, CodecTelephoneEvent)
	}
	return build(addr, port, sessionID, codecs)
}

func build(addr string, port int, sessionID uint64, codecs []Codec) ([]byte, error) {
	formats := make([]string, 0, len(codecs))
	for _, c := range codecs {
		formats = append(formats, c.Format())
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "dialer",
			SessionID:      sessionID,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "dialer",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attributes(codecs),
			},
		},
	}
	return desc.Marshal()
}

func attributes(codecs []Codec) []sdp.Attribute {
	attrs := make([]sdp.Attribute, 0, len(codecs)+3)
	for _, c := range codecs {
		if m, ok := rtpmap[c.PayloadType]; ok {
			attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: c.Format() + " " + m})
		}
		if c == CodecTelephoneEvent {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: "101 0-15"})
		}
	}
	attrs = append(attrs,
		sdp.Attribute{Key: "ptime", Value: "20"},
		sdp.Attribute{Key: "sendrecv"},
	)
	return attrs
}

// Remote is what the peer's SDP says about its audio stream.
type Remote struct {
	Endpoint Endpoint
	Codec    Codec
	DTMF     bool
}

// ParseRemote reads the peer's RTP endpoint and first supported codec.
func ParseRemote(body []byte) (Remote, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return Remote{}, fmt.Errorf("parse sdp: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil || audio.MediaName.Port.Value == 0 {
		return Remote{}, ErrNoMedia
	}

	var addr string
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		addr = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}
	if addr == "" {
		return Remote{}, fmt.Errorf("%w: no connection address", ErrNoMedia)
	}

	r := Remote{Endpoint: Endpoint{Addr: addr, Port: audio.MediaName.Port.Value}}
	found := false
	for _, f := range audio.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		if uint8(pt) == CodecTelephoneEvent.PayloadType {
			r.DTMF = true
			continue
		}
		if c, ok := CodecByPayloadType(uint8(pt)); ok && !found {
			r.Codec = c
			found = true
		}
	}
	if !found {
		return Remote{}, fmt.Errorf("%w: no supported codec in %v", ErrNoMedia, audio.MediaName.Formats)
	}
	return r, nil
}

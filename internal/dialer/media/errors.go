package media

import "errors"

var (
	// ErrNoPorts indicates the RTP port range is exhausted.
	ErrNoPorts = errors.New("no rtp ports available")

	// ErrNoMedia indicates an SDP body carried no usable audio stream.
	ErrNoMedia = errors.New("no audio media in sdp")

	// ErrClosed indicates the stream was already closed.
	ErrClosed = errors.New("stream closed")
)

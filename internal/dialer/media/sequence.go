package media

// SequenceTracker counts received and lost packets from RTP sequence
// numbers, handling 16-bit wrap-around.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	lost        uint64
	received    uint64
}

// Update records a received sequence number and returns the number of
// packets skipped since the previous one.
func (s *SequenceTracker) Update(seq uint16) (lost int) {
	s.received++
	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return 0
	}

	// Negative means reordered or late; only forward gaps count.
	diff := int16(seq - s.lastSeq)
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if diff > 0 {
		s.lastSeq = seq
	}
	return lost
}

// Stats returns cumulative counters.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

package rtp

import (
	"crypto/rand"
	"encoding/binary"
)

// SequenceTracker extends 16-bit RTP sequence numbers across rollover and
// counts lost packets.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	received    uint64
}

// Update records a received sequence number and returns the extended
// sequence number and the packets lost since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Forward distance in uint16 arithmetic, read as signed for direction.
	diff := int16(seq - s.lastSeq)
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}
	if diff <= 0 {
		// Late or duplicate packet.
		return (s.cycles << 16) | uint32(seq), 0
	}
	if seq < s.lastSeq {
		s.cycles++
	}
	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Stats returns cumulative received and lost counts.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns lost / (received + lost).
func (s *SequenceTracker) LossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0
	}
	return float64(s.lost) / float64(total)
}

// Reset clears all tracking state.
func (s *SequenceTracker) Reset() {
	*s = SequenceTracker{}
}

// randomUint32 returns a random value for SSRCs and initial timestamps
// (RFC 3550 section 5.1).
func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x12345678
	}
	return binary.BigEndian.Uint32(b[:])
}

func randomUint16() uint16 {
	return uint16(randomUint32())
}

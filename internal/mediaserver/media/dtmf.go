package media

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// DTMFEvent is an RFC 4733 telephone-event payload:
//
//	|     event     |E|R| volume    |          duration             |
type DTMFEvent struct {
	Event      uint8  // 0-15: 0-9, *, #, A-D
	EndOfEvent bool   // E bit: final packet of the event
	Volume     uint8  // 0-63, in -dBm0
	Duration   uint16 // timestamp units
}

const dtmfDigits = "0123456789*#ABCD"

// DTMFEventOf returns the event code of a digit (0-9, *, #, A-D).
func DTMFEventOf(digit rune) (uint8, bool) {
	i := strings.IndexRune(dtmfDigits, digit)
	if i < 0 && digit >= 'a' && digit <= 'd' {
		i = strings.IndexRune(dtmfDigits, digit-'a'+'A')
	}
	if i < 0 {
		return 0, false
	}
	return uint8(i), true
}

// Digit returns the digit the event stands for.
func (e DTMFEvent) Digit() (rune, bool) {
	if int(e.Event) >= len(dtmfDigits) {
		return 0, false
	}
	return rune(dtmfDigits[e.Event]), true
}

// Marshal encodes the 4-byte payload.
func (e DTMFEvent) Marshal() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.EndOfEvent {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// ParseDTMFEvent decodes a telephone-event payload.
func ParseDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("telephone-event payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: payload[1]&0x80 != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

func (e DTMFEvent) String() string {
	digit, ok := e.Digit()
	if !ok {
		digit = '?'
	}
	s := fmt.Sprintf("dtmf %c vol=%d dur=%d", digit, e.Volume, e.Duration)
	if e.EndOfEvent {
		s += " end"
	}
	return s
}

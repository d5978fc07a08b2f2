package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFEventOf(t *testing.T) {
	for digit, want := range map[rune]uint8{'0': 0, '9': 9, '*': 10, '#': 11, 'A': 12, 'd': 15} {
		got, ok := DTMFEventOf(digit)
		require.True(t, ok, string(digit))
		assert.Equal(t, want, got, string(digit))
	}
	_, ok := DTMFEventOf('x')
	assert.False(t, ok)

	_, ok = DTMFEvent{Event: 16}.Digit()
	assert.False(t, ok)
}

func TestDTMFEventWireFormat(t *testing.T) {
	e := DTMFEvent{Event: 11, EndOfEvent: true, Volume: 10, Duration: 1600}
	assert.Equal(t, []byte{11, 0x8A, 0x06, 0x40}, e.Marshal())

	got, err := ParseDTMFEvent([]byte{5, 0x0A, 0x00, 0xA0})
	require.NoError(t, err)
	assert.Equal(t, DTMFEvent{Event: 5, Volume: 10, Duration: 160}, got)
	assert.Equal(t, "dtmf 5 vol=10 dur=160", got.String())

	_, err = ParseDTMFEvent([]byte{1, 2})
	require.Error(t, err)
}

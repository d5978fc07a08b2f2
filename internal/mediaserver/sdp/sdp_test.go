package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

const offer = "v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 192.0.2.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 18 8 0 101\r\n" +
	"a=rtpmap:18 G729/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-15\r\n" +
	"a=sendonly\r\n" +
	"m=video 51372 RTP/AVP 99\r\n" +
	"a=rtpmap:99 H264/90000\r\n"

func TestParseOffer(t *testing.T) {
	d, err := Parse([]byte(offer))
	require.NoError(t, err)

	assert.Equal(t, "192.0.2.10", d.Address)
	require.Len(t, d.Media, 2)

	audio, ok := d.Get(media.Audio)
	require.True(t, ok)
	assert.Equal(t, 49170, audio.Port)
	assert.Equal(t, "sendonly", audio.Direction)
	assert.Equal(t, media.Formats{
		{Name: "G729", ClockRate: 8000, Channels: 1},
		media.PCMA,
		media.PCMU,
		media.TelephoneEvent,
	}, audio.Formats())

	pt, ok := audio.PayloadType(media.TelephoneEvent)
	require.True(t, ok)
	assert.Equal(t, uint8(101), pt)

	video, ok := d.Get(media.Video)
	require.True(t, ok)
	assert.Equal(t, 51372, video.Port)
	assert.Equal(t, "H264", video.Codecs[0].Format.Name)
}

func TestParseRejectsMissingAddress(t *testing.T) {
	raw := "v=0\r\n" +
		"o=- 1 1 IN IP4 0.0.0.0\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 4000 RTP/AVP 0\r\n"
	_, err := Parse([]byte(raw))
	require.Error(t, err)
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("not sdp"))
	require.Error(t, err)
}

func TestMarshalRoundTripsThroughParse(t *testing.T) {
	d := NewDescriptor("203.0.113.5")
	d.Media = []MediaDescription{{
		Type:   media.Audio,
		Port:   10000,
		Codecs: Codecs(media.Formats{media.PCMU, media.PCMA, media.TelephoneEvent}),
	}}

	raw, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "a=rtpmap:0 PCMU/8000")
	assert.Contains(t, string(raw), "a=fmtp:101 0-15")
	assert.Contains(t, string(raw), "a=sendrecv")

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5", parsed.Address)
	audio, ok := parsed.Get(media.Audio)
	require.True(t, ok)
	assert.Equal(t, 10000, audio.Port)
	assert.Equal(t, media.Formats{media.PCMU, media.PCMA, media.TelephoneEvent}, audio.Formats())
}

func TestCodecsAssignsDynamicTypes(t *testing.T) {
	codecs := Codecs(media.Formats{
		{Name: "opus", ClockRate: 48000, Channels: 2},
		media.TelephoneEvent,
		media.PCMU,
		{Name: "speex", ClockRate: 8000},
	})
	require.Len(t, codecs, 4)
	assert.Equal(t, uint8(96), codecs[0].PayloadType)
	assert.Equal(t, uint8(101), codecs[1].PayloadType)
	assert.Equal(t, uint8(0), codecs[2].PayloadType)
	assert.Equal(t, uint8(97), codecs[3].PayloadType)
}

package rtp

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/sdp"
)

func TestPortPool(t *testing.T) {
	p := NewPortPool(10001, 10006)
	assert.Equal(t, 2, p.Available(), "10002 and 10004")

	rtpPort, rtcpPort, err := p.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 10002, rtpPort)
	assert.Equal(t, 10003, rtcpPort)

	_, _, err = p.Allocate()
	require.NoError(t, err)
	_, _, err = p.Allocate()
	require.ErrorIs(t, err, ErrNoPortsAvailable)

	p.Release(rtpPort)
	p.Release(rtpPort)
	p.Release(9999)
	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 1, p.Allocated())
}

func TestSequenceTracker(t *testing.T) {
	var s SequenceTracker
	s.Update(65534)
	s.Update(65535)
	ext, lost := s.Update(1) // 0 lost across rollover
	assert.Equal(t, 1, lost)
	assert.Equal(t, uint32(1<<16|1), ext)

	_, lost = s.Update(0) // late
	assert.Zero(t, lost)

	received, totalLost := s.Stats()
	assert.Equal(t, uint64(4), received)
	assert.Equal(t, uint64(1), totalLost)
	assert.InDelta(t, 0.2, s.LossRate(), 0.001)

	s.Reset()
	assert.Zero(t, s.LossRate())
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (r *frameRecorder) handle(f media.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *frameRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestManager() *Manager {
	return NewManager(NewPortPool(47000, 47999), "127.0.0.1", "")
}

func TestChannelSendsAndReceives(t *testing.T) {
	m := newTestManager()
	a := m.NewChannel("a", media.Audio)
	b := m.NewChannel("b", media.Audio)
	require.NoError(t, a.Bind())
	require.NoError(t, b.Bind())
	defer a.Close()
	defer b.Close()

	codecs := sdp.Codecs(media.Formats{media.PCMU})
	require.NoError(t, a.SetCodecs(codecs))
	require.NoError(t, b.SetCodecs(codecs))
	require.NoError(t, a.SetPeer("127.0.0.1", b.LocalPort()))

	rec := &frameRecorder{}
	sink := component.NewInput("rec", nil, rec.handle)
	p := component.NewPipe()
	p.Connect(b.Output(), sink)
	p.Start()

	a.Input().Start()
	require.NoError(t, a.Input().WriteFrame(media.Frame{
		Payload:  make([]byte, 160),
		Format:   media.PCMU,
		Duration: 20 * time.Millisecond,
	}))

	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	got := rec.frames[0]
	assert.Equal(t, media.PCMU, got.Format)
	assert.Equal(t, 20*time.Millisecond, got.Duration)
	received, _ := b.Loss()
	assert.Equal(t, uint64(1), received)
}

func TestChannelDropsUnknownPayloadType(t *testing.T) {
	m := newTestManager()
	c := m.NewChannel("c", media.Audio)
	require.NoError(t, c.Bind())
	defer c.Close()
	require.NoError(t, c.SetCodecs(sdp.Codecs(media.Formats{media.PCMU})))

	rec := &frameRecorder{}
	p := component.NewPipe()
	p.Connect(c.Output(), component.NewInput("rec", nil, rec.handle))
	p.Start()

	conn, err := net.Dial("udp", (&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: c.LocalPort()}).String())
	require.NoError(t, err)
	defer conn.Close()

	pkt := pionrtp.Packet{Header: pionrtp.Header{Version: 2, PayloadType: 18, SequenceNumber: 1}, Payload: []byte{1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.dropped.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.len())
}

func TestChannelCloseReleasesPort(t *testing.T) {
	m := newTestManager()
	before := m.Pool().Available()

	c := m.NewChannel("c", media.Audio)
	require.NoError(t, c.Bind())
	require.NoError(t, c.Bind(), "second bind is a no-op")
	assert.Equal(t, before-1, m.Pool().Available())
	assert.True(t, c.IsBound())

	c.Close()
	c.Close()
	assert.False(t, c.IsBound())
	assert.Equal(t, before, m.Pool().Available())
}

func TestChannelReportsFailure(t *testing.T) {
	m := newTestManager()
	c := m.NewChannel("c", media.Audio)
	require.NoError(t, c.Bind())
	defer c.Close()

	failed := make(chan error, 1)
	c.OnFailure(func(err error) { failed <- err })

	c.fail(errors.New("socket gone"))
	c.fail(errors.New("reported once"))

	select {
	case err := <-failed:
		assert.EqualError(t, err, "socket gone")
	case <-time.After(2 * time.Second):
		t.Fatal("failure handler not called")
	}
	assert.Empty(t, failed)
}

func TestSetPeerRejectsGarbage(t *testing.T) {
	c := newTestManager().NewChannel("c", media.Audio)
	require.Error(t, c.SetPeer("not an address!", 4000))
}

package connection

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// flowing reports whether media received by from reaches what to transmits.
func flowing(lc *LocalChannel, from, to *Connection) bool {
	a2b, b2a := lc.Running()
	if lc.a.conn == to && lc.b.conn == from {
		return a2b
	}
	return b2a
}

func TestConferenceBridgesMembers(t *testing.T) {
	p, _ := newTestPool(t, newTestEndpoint("ep", nil))
	a := openConnection(t, p, TypeLocal)
	b := openConnection(t, p, TypeLocal)
	c := openConnection(t, p, TypeLocal)

	require.NoError(t, a.SetAudioMode(ModeConference))
	assert.Zero(t, p.Bridges())
	require.NoError(t, b.SetAudioMode(ModeConference))
	require.NoError(t, c.SetAudioMode(ModeConference))
	assert.Equal(t, 3, p.Bridges())

	lc, ok := p.Bridge(a, b)
	require.True(t, ok)
	assert.True(t, lc.Match(a))
	assert.True(t, lc.Match(b))
	assert.False(t, lc.Match(c))
	assert.Contains(t, lc.ID(), "bridge-")
	a2b, b2a := lc.Running()
	assert.True(t, a2b)
	assert.True(t, b2a)

	// Leaving the conference drops exactly the member's bridges.
	require.NoError(t, b.SetAudioMode(ModeSendRecv))
	assert.Equal(t, 1, p.Bridges())
	_, ok = p.Bridge(a, c)
	assert.True(t, ok)
	assert.Empty(t, p.BridgesOf(b))

	c.Close()
	assert.Zero(t, p.Bridges())
	assert.Equal(t, 1, a.channels[media.Audio].mixer.Inputs(), "only the send leg input remains")
}

func TestConferenceBridgeCarriesMedia(t *testing.T) {
	p, sched := newTestPool(t, newTestEndpoint("ep", nil))
	a := openConnection(t, p, TypeLocal)
	b := openConnection(t, p, TypeLocal)
	require.NoError(t, a.SetAudioMode(ModeConference))
	require.NoError(t, b.SetAudioMode(ModeConference))

	lc, ok := p.Bridge(a, b)
	require.True(t, ok)

	// Media arriving on a is mixed into what b transmits.
	require.NoError(t, a.channels[media.Audio].splitter.Input().WriteFrame(linearFrame(10)))
	sched.RunMedia()

	st := lc.Stats()
	assert.Equal(t, int64(1), st.PacketsA2B+st.PacketsB2A)
	assert.Equal(t, int64(320), st.BytesA2B+st.BytesB2A)
}

func TestConcurrentConferenceJoinCreatesOneBridge(t *testing.T) {
	for i := 0; i < 50; i++ {
		p, _ := newTestPool(t, newTestEndpoint("ep", nil))
		a := openConnection(t, p, TypeLocal)
		b := openConnection(t, p, TypeLocal)

		var wg sync.WaitGroup
		for _, c := range []*Connection{a, b} {
			wg.Add(1)
			go func(c *Connection) {
				defer wg.Done()
				assert.NoError(t, c.SetAudioMode(ModeConference))
			}(c)
		}
		wg.Wait()
		require.Equal(t, 1, p.Bridges(), "iteration %d", i)

		// One bridge lease plus the send leg per side.
		assert.Equal(t, 2, a.channels[media.Audio].mixer.Inputs())
		assert.Equal(t, 2, b.channels[media.Audio].mixer.Inputs())

		require.NoError(t, a.SetAudioMode(ModeInactive))
		require.NoError(t, b.SetAudioMode(ModeInactive))
		require.Zero(t, p.Bridges())
		assert.Zero(t, a.channels[media.Audio].mixer.Inputs())
		assert.Zero(t, a.channels[media.Audio].splitter.Outputs())
		assert.Zero(t, b.channels[media.Audio].mixer.Inputs())
		assert.Zero(t, b.channels[media.Audio].splitter.Outputs())
		p.Release()
	}
}

func TestConcurrentLeaveAndJoinLeavesNoStaleBridge(t *testing.T) {
	for i := 0; i < 50; i++ {
		p, _ := newTestPool(t, newTestEndpoint("ep", nil))
		a := openConnection(t, p, TypeLocal)
		b := openConnection(t, p, TypeLocal)
		require.NoError(t, a.SetAudioMode(ModeConference))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.SetAudioMode(ModeInactive))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, b.SetAudioMode(ModeConference))
		}()
		wg.Wait()

		require.Zero(t, p.Bridges(), "iteration %d", i)
		assert.Zero(t, a.channels[media.Audio].mixer.Inputs())
		p.Release()
	}
}

func TestRelayDirectionFollowsModes(t *testing.T) {
	p, _ := newTestPool(t, newTestEndpoint("ep", nil), withRTP(2, 48000), func(o *Options) {
		o.Pairing = PairLocalRemote
	})
	local := openConnection(t, p, TypeLocal)
	remote := openConnection(t, p, TypeRTP)
	other := openConnection(t, p, TypeLocal)

	require.NoError(t, local.SetAudioMode(ModeConference))
	require.NoError(t, other.SetAudioMode(ModeSendRecv))
	assert.Zero(t, p.Bridges(), "two local connections never pair")

	require.NoError(t, remote.SetAudioMode(ModeRecvOnly))
	assert.Equal(t, 2, p.Bridges())

	lc, ok := p.Bridge(local, remote)
	require.True(t, ok)
	// local transmits what remote receives; remote transmits nothing.
	assert.True(t, flowing(lc, remote, local))
	assert.False(t, flowing(lc, local, remote))

	require.NoError(t, remote.SetAudioMode(ModeSendRecv))
	assert.True(t, flowing(lc, remote, local))
	assert.True(t, flowing(lc, local, remote))

	require.NoError(t, local.SetAudioMode(ModeSendOnly))
	assert.True(t, flowing(lc, remote, local))
	assert.False(t, flowing(lc, local, remote))
	same, ok := p.Bridge(local, remote)
	require.True(t, ok)
	assert.Same(t, lc, same, "mode changes that keep membership update in place")

	// Relay pools do not aggregate onto the endpoint.
	assert.Equal(t, ModeInactive, p.Mode(media.Audio))
}

func TestRemoteRemotePairing(t *testing.T) {
	p, _ := newTestPool(t, newTestEndpoint("ep", nil), withRTP(2, 48100), func(o *Options) {
		o.Pairing = PairRemoteRemote
	})
	a := openConnection(t, p, TypeRTP)
	b := openConnection(t, p, TypeRTP)
	l := openConnection(t, p, TypeLocal)

	require.NoError(t, l.SetAudioMode(ModeSendRecv))
	require.NoError(t, a.SetAudioMode(ModeSendRecv))
	require.NoError(t, b.SetAudioMode(ModeSendRecv))
	assert.Equal(t, 1, p.Bridges())
	_, ok := p.Bridge(a, b)
	assert.True(t, ok)

	require.NoError(t, a.SetAudioMode(ModeInactive))
	assert.Zero(t, p.Bridges())
}

func TestLocalPairCarriesMediaAcrossEndpoints(t *testing.T) {
	src := newTestEndpoint("src", nil)
	dst := newTestEndpoint("dst", nil)
	p1, sched := newTestPool(t, src)
	p2, err := NewConnections(dst, Options{Scheduler: sched, LocalPoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(p2.Release)

	c1 := openConnection(t, p1, TypeLocal)
	c2 := openConnection(t, p2, TypeLocal)
	require.NoError(t, c1.SetAudioMode(ModeSendOnly))
	require.NoError(t, c2.SetAudioMode(ModeRecvOnly))

	log := &eventLog{}
	c2.AddListener(log)
	require.NoError(t, c1.SetOtherParty(c2))
	assert.Equal(t, StateOpen, c1.State())
	assert.Equal(t, StateOpen, c2.State())
	assert.Equal(t, []State{StateOpen}, log.states())
	assert.Same(t, c2, c1.OtherParty())
	assert.Same(t, c1, c2.OtherParty())

	require.ErrorIs(t, c1.SetOtherParty(c2), ErrIllegalState)

	require.NoError(t, src.source.Emit(linearFrame(1000)))
	for i := 0; i < 3; i++ {
		sched.RunMedia()
	}
	require.Equal(t, 1, dst.rec.count())
	assert.Equal(t, media.Linear, dst.rec.frames[0].Format)

	c1.Close()
	assert.Nil(t, c2.OtherParty())
	assert.Equal(t, StateOpen, c2.State())
}

func TestSetOtherPartyValidation(t *testing.T) {
	p, _ := newTestPool(t, newTestEndpoint("ep", nil), withRTP(1, 48200))
	a := openConnection(t, p, TypeLocal)
	r := openConnection(t, p, TypeRTP)
	idle, err := p.CreateConnection(TypeLocal)
	require.NoError(t, err)

	require.ErrorIs(t, a.SetOtherParty(a), ErrIllegalState)
	require.ErrorIs(t, a.SetOtherParty(r), ErrIllegalState)
	require.ErrorIs(t, a.SetOtherParty(nil), ErrIllegalState)
	require.ErrorIs(t, a.SetOtherParty(idle), ErrIllegalState)
	assert.Nil(t, a.OtherParty())
	assert.Equal(t, StateHalfOpen, a.State())
}

package endpoint

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

func frame(v byte) media.Frame {
	payload := make([]byte, 320)
	for i := range payload {
		payload[i] = v
	}
	return media.Frame{Payload: payload, Format: media.Linear, Duration: 20 * time.Millisecond}
}

func newEndpoint(t *testing.T, sched *scheduler.Scheduler, cfg Config) *Endpoint {
	t.Helper()
	e, err := New(cfg, connection.Options{Scheduler: sched})
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		err  bool
	}{
		{"conference", KindConference, false},
		{" Bridge ", KindBridge, false},
		{"RELAY", KindRelay, false},
		{"", KindConference, false},
		{"ivr", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.err {
				require.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindSelectsPairing(t *testing.T) {
	sched := scheduler.New()
	for kind, want := range map[string]connection.Pairing{
		"conference": connection.PairAll,
		"bridge":     connection.PairLocalRemote,
		"relay":      connection.PairRemoteRemote,
	} {
		e := newEndpoint(t, sched, Config{Name: kind, Kind: kind, LocalConnections: 1})
		assert.Equal(t, want, e.Connections().Pairing(), kind)
		assert.Equal(t, kind, e.Connections().Name())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	sched := scheduler.New()
	_, err := New(Config{Kind: "conference"}, connection.Options{Scheduler: sched})
	require.Error(t, err)

	_, err = New(Config{Name: "x", Kind: "mixer"}, connection.Options{Scheduler: sched})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = New(Config{Name: "x", RTPConnections: 1}, connection.Options{Scheduler: sched})
	require.Error(t, err, "rtp connections need an rtp manager")
}

func TestOnlyConferenceHasOwnMedia(t *testing.T) {
	sched := scheduler.New()
	conf := newEndpoint(t, sched, Config{Name: "conf", Kind: "conference"})
	relay := newEndpoint(t, sched, Config{Name: "relay", Kind: "relay"})

	assert.NotNil(t, conf.Source(media.Audio))
	assert.NotNil(t, conf.Sink(media.Audio))
	assert.Nil(t, conf.Source(media.Video))

	assert.Nil(t, relay.Source(media.Audio))
	assert.Nil(t, relay.Sink(media.Audio))
	require.Error(t, relay.Play(frame(1)))
	assert.Zero(t, relay.Played().Packets)
}

func TestConferenceAnnouncementReachesOtherEndpoint(t *testing.T) {
	sched := scheduler.New()
	src := newEndpoint(t, sched, Config{Name: "src", LocalConnections: 1})
	dst := newEndpoint(t, sched, Config{Name: "dst", LocalConnections: 1})

	var mu sync.Mutex
	var got []media.Frame
	dst.OnFrame(func(f media.Frame) {
		mu.Lock()
		got = append(got, f)
		mu.Unlock()
	})

	c1, err := src.Connections().CreateConnection(connection.TypeLocal)
	require.NoError(t, err)
	require.NoError(t, c1.Bind())
	c2, err := dst.Connections().CreateConnection(connection.TypeLocal)
	require.NoError(t, err)
	require.NoError(t, c2.Bind())

	require.NoError(t, c1.SetAudioMode(connection.ModeSendOnly))
	require.NoError(t, c2.SetAudioMode(connection.ModeRecvOnly))
	require.NoError(t, c1.SetOtherParty(c2))

	assert.Equal(t, connection.ModeSendOnly, src.Mode())
	assert.Equal(t, connection.ModeRecvOnly, dst.Mode())

	require.NoError(t, src.Play(frame(7)))
	for i := 0; i < 3; i++ {
		sched.RunMedia()
	}

	assert.Equal(t, int64(1), src.Played().Packets)
	assert.Equal(t, int64(1), dst.Recorded().Packets)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, media.Linear, got[0].Format)
}

func TestPlayDroppedWhileIdle(t *testing.T) {
	sched := scheduler.New()
	e := newEndpoint(t, sched, Config{Name: "conf", LocalConnections: 1})
	require.NoError(t, e.Play(frame(1)))
	assert.Zero(t, e.Played().Packets)
	assert.Equal(t, connection.ModeInactive, e.Mode())
}

func TestRegistry(t *testing.T) {
	sched := scheduler.New()
	r := NewRegistry()

	a, err := New(Config{Name: "b-conf", LocalConnections: 1}, connection.Options{Scheduler: sched})
	require.NoError(t, err)
	b, err := New(Config{Name: "a-relay", Kind: "relay"}, connection.Options{Scheduler: sched})
	require.NoError(t, err)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.ErrorIs(t, r.Register(a), ErrDuplicate)
	assert.Equal(t, []string{"a-relay", "b-conf"}, r.Names())
	assert.Equal(t, 2, r.Len())

	got, err := r.Get("b-conf")
	require.NoError(t, err)
	assert.Same(t, a, got)
	_, err = r.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	c, err := a.Connections().CreateConnection(connection.TypeLocal)
	require.NoError(t, err)
	require.NoError(t, c.Bind())

	r.Close()
	assert.Zero(t, r.Len())
	assert.Equal(t, connection.StateNull, c.State())
	assert.Equal(t, 1, a.Connections().FreeCount(connection.TypeLocal))
}

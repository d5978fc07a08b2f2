package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

type endpoint struct{}

func (endpoint) Name() string                        { return "conf" }
func (endpoint) Source(media.MediaType) media.Source { return nil }
func (endpoint) Sink(media.MediaType) media.Sink     { return nil }
func (endpoint) ModeUpdated(_, _ connection.Mode)    {}

func TestCollectorFollowsPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	p, err := connection.NewConnections(endpoint{}, connection.Options{
		Scheduler:     scheduler.New(),
		LocalPoolSize: 2,
		Observer:      m,
	})
	require.NoError(t, err)
	defer p.Release()

	var conns []*connection.Connection
	for i := 0; i < 2; i++ {
		c, err := p.CreateConnection(connection.TypeLocal)
		require.NoError(t, err)
		require.NoError(t, c.Bind())
		require.NoError(t, c.SetAudioMode(connection.ModeConference))
		conns = append(conns, c)
	}
	_, err = p.CreateConnection(connection.TypeLocal)
	require.ErrorIs(t, err, connection.ErrResourceUnavailable)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.created.WithLabelValues("conf", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("conf", "local")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.active.WithLabelValues("conf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridges.WithLabelValues("conf")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.modeChanges.WithLabelValues("audio", "confrnce")))

	conns[0].Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.released.WithLabelValues("conf", "local")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("conf")))
	assert.Zero(t, testutil.ToFloat64(m.bridges.WithLabelValues("conf")))
}

func TestCollectorRegistersUnderNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.HeartbeatEvicted("conf")
	m.TransportFailed("conf")

	n, err := testutil.GatherAndCount(reg,
		"mediaserver_heartbeat_evictions_total",
		"mediaserver_rtp_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Panics(t, func() { New(reg) }, "collectors register once per registry")
}

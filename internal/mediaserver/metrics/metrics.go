// Package metrics exports connection pool events as Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

const namespace = "mediaserver"

// Collector implements connection.Observer.
type Collector struct {
	created          *prometheus.CounterVec
	released         *prometheus.CounterVec
	rejected         *prometheus.CounterVec
	active           *prometheus.GaugeVec
	evictions        *prometheus.CounterVec
	modeChanges      *prometheus.CounterVec
	bridges          *prometheus.GaugeVec
	transportFailure *prometheus.CounterVec
}

var _ connection.Observer = (*Collector)(nil)

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		created: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_created_total",
			Help:      "Connections handed out by an endpoint pool",
		}, []string{"endpoint", "type"}),
		released: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_released_total",
			Help:      "Connections returned to an endpoint pool",
		}, []string{"endpoint", "type"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connection requests refused because the pool was empty",
		}, []string{"endpoint", "type"}),
		active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections currently taken from an endpoint pool",
		}, []string{"endpoint"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_evictions_total",
			Help:      "Connections closed because their state timed out",
		}, []string{"endpoint"}),
		modeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_changes_total",
			Help:      "Connection mode changes by media type and new mode",
		}, []string{"media", "mode"}),
		bridges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridges_active",
			Help:      "Bridges currently joining two connections of an endpoint",
		}, []string{"endpoint"}),
		transportFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtp_failures_total",
			Help:      "Connections closed after an RTP transport failure",
		}, []string{"endpoint"}),
	}
}

func (c *Collector) ConnectionCreated(endpoint string, t connection.Type) {
	c.created.WithLabelValues(endpoint, t.String()).Inc()
}

func (c *Collector) ConnectionReleased(endpoint string, t connection.Type) {
	c.released.WithLabelValues(endpoint, t.String()).Inc()
}

func (c *Collector) ConnectionRejected(endpoint string, t connection.Type) {
	c.rejected.WithLabelValues(endpoint, t.String()).Inc()
}

func (c *Collector) ActiveChanged(endpoint string, active int) {
	c.active.WithLabelValues(endpoint).Set(float64(active))
}

func (c *Collector) HeartbeatEvicted(endpoint string) {
	c.evictions.WithLabelValues(endpoint).Inc()
}

func (c *Collector) ModeChanged(mt media.MediaType, m connection.Mode) {
	c.modeChanges.WithLabelValues(mt.String(), m.String()).Inc()
}

func (c *Collector) BridgesChanged(endpoint string, bridges int) {
	c.bridges.WithLabelValues(endpoint).Set(float64(bridges))
}

func (c *Collector) TransportFailed(endpoint string) {
	c.transportFailure.WithLabelValues(endpoint).Inc()
}

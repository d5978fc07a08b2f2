// Package rtp implements the RTP transport used by remote connections:
// UDP channels that packetize frames with pion/rtp, backed by a shared
// port pool.
package rtp

import (
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Manager creates RTP channels sharing one port pool and bind address.
type Manager struct {
	pool      *PortPool
	bindAddr  string
	advertise string
}

// NewManager creates a manager. advertise is the address put into local
// descriptors; it defaults to bindAddr.
func NewManager(pool *PortPool, bindAddr, advertise string) *Manager {
	if advertise == "" {
		advertise = bindAddr
	}
	return &Manager{pool: pool, bindAddr: bindAddr, advertise: advertise}
}

// NewChannel creates an unbound channel.
func (m *Manager) NewChannel(id string, mt media.MediaType) *Channel {
	return newChannel(id, mt, m.pool, m.bindAddr)
}

// Advertise returns the address announced to peers.
func (m *Manager) Advertise() string { return m.advertise }

// Pool returns the shared port pool.
func (m *Manager) Pool() *PortPool { return m.pool }

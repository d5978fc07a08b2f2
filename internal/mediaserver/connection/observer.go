package connection

import (
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Observer receives pool and connection events for instrumentation.
type Observer interface {
	ConnectionCreated(endpoint string, t Type)
	ConnectionReleased(endpoint string, t Type)
	ConnectionRejected(endpoint string, t Type)
	ActiveChanged(endpoint string, active int)
	HeartbeatEvicted(endpoint string)
	ModeChanged(mt media.MediaType, m Mode)
	BridgesChanged(endpoint string, bridges int)
	TransportFailed(endpoint string)
}

type nopObserver struct{}

func (nopObserver) ConnectionCreated(string, Type) {}
func (nopObserver) ConnectionReleased(string, Type) {}
func (nopObserver) ConnectionRejected(string, Type) {}
func (nopObserver) ActiveChanged(string, int) {}
func (nopObserver) HeartbeatEvicted(string) {}
func (nopObserver) ModeChanged(media.MediaType, Mode) {}
func (nopObserver) BridgesChanged(string, int) {}
func (nopObserver) TransportFailed(string) {}

package rtp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// ErrNoPortsAvailable is returned when every port pair is in use.
var ErrNoPortsAvailable = errors.New("no rtp ports available")

// PortPool hands out RTP port pairs (even RTP port, odd RTCP port).
// Released ports go to the back of the queue so they rest before reuse.
type PortPool struct {
	mu        sync.Mutex
	minPort   int
	maxPort   int
	available deque.Deque[int]
	allocated map[int]bool
}

// NewPortPool creates a pool covering [minPort, maxPort].
// minPort is rounded up to an even port.
func NewPortPool(minPort, maxPort int) *PortPool {
	if minPort%2 != 0 {
		minPort++
	}
	p := &PortPool{
		minPort:   minPort,
		maxPort:   maxPort,
		allocated: make(map[int]bool),
	}
	for port := minPort; port < maxPort; port += 2 {
		p.available.PushBack(port)
	}
	return p
}

// Allocate returns a port pair.
func (p *PortPool) Allocate() (rtpPort, rtcpPort int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.available.Len() == 0 {
		return 0, 0, fmt.Errorf("%w (range %d-%d)", ErrNoPortsAvailable, p.minPort, p.maxPort)
	}
	port := p.available.PopFront()
	p.allocated[port] = true
	return port, port + 1, nil
}

// Release returns a port pair. Ports not handed out by this pool are ignored.
func (p *PortPool) Release(rtpPort int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocated[rtpPort] {
		delete(p.allocated, rtpPort)
		p.available.PushBack(rtpPort)
	}
}

// Available returns the number of free port pairs.
func (p *PortPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available.Len()
}

// Allocated returns the number of port pairs in use.
func (p *PortPool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

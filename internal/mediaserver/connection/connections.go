package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/dsp"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/rtp"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

// DefaultHalfOpenTimeout evicts connections that are bound but never joined.
const DefaultHalfOpenTimeout = 30 * time.Second

// Pairing selects which active connections get bridged to each other.
type Pairing int

const (
	// PairAll bridges every pair of CONFERENCE connections and mixes them
	// with the endpoint's own media.
	PairAll Pairing = iota
	// PairLocalRemote bridges local connections with RTP connections only.
	PairLocalRemote
	// PairRemoteRemote bridges RTP connections with each other only.
	PairRemoteRemote
)

func (p Pairing) String() string {
	switch p {
	case PairAll:
		return "all"
	case PairLocalRemote:
		return "local-remote"
	case PairRemoteRemote:
		return "remote-remote"
	default:
		return fmt.Sprintf("pairing(%d)", int(p))
	}
}

// Endpoint is the owner of a pool: it supplies its own media source and
// sink per media type (either may be nil) and is told when the aggregate
// mode changes.
type Endpoint interface {
	Name() string
	Source(mt media.MediaType) media.Source
	Sink(mt media.MediaType) media.Sink
	ModeUpdated(old, new Mode)
}

// Options configures a pool.
type Options struct {
	Scheduler  *scheduler.Scheduler
	Components *component.Factory
	DSP        *dsp.Factory
	// RTP is required when RTPPoolSize > 0.
	RTP *rtp.Manager

	LocalPoolSize int
	RTPPoolSize   int
	Pairing       Pairing

	// HalfOpenTimeout defaults to DefaultHalfOpenTimeout; negative disables it.
	HalfOpenTimeout time.Duration
	// OpenTimeout of zero or less never expires.
	OpenTimeout time.Duration

	// Capabilities are the formats the endpoint works in, per media type.
	// Defaults to linear audio and pass-through video.
	Capabilities map[media.MediaType]media.Formats

	Observer Observer
}

// Connections is the fixed-size connection pool of one endpoint. It tracks
// active connections, derives the endpoint's aggregate mode and keeps the
// bridges between conference members.
type Connections struct {
	name     string
	endpoint Endpoint
	pairing  Pairing

	scheduler    *scheduler.Scheduler
	components   *component.Factory
	dsp          *dsp.Factory
	rtp          *rtp.Manager
	capabilities map[media.MediaType]media.Formats
	observer     Observer

	halfOpenTimeout time.Duration
	openTimeout     time.Duration

	mu   sync.Mutex
	free map[Type]*deque.Deque[*Connection]
	size map[Type]int

	active  *xsync.MapOf[string, *Connection]
	bridges *xsync.MapOf[pairKey, *LocalChannel]

	aggregates map[media.MediaType]*aggregate
	nextID     atomic.Uint64
}

// NewConnections pre-allocates the local and RTP connections of an endpoint.
func NewConnections(endpoint Endpoint, opts Options) (*Connections, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("connections: scheduler is required")
	}
	if opts.DSP == nil {
		opts.DSP = dsp.NewFactory()
	}
	if opts.Components == nil {
		opts.Components = component.NewFactory(opts.Scheduler, opts.DSP)
	}
	if opts.RTPPoolSize > 0 && opts.RTP == nil {
		return nil, errors.New("connections: rtp manager is required for rtp connections")
	}
	if opts.HalfOpenTimeout == 0 {
		opts.HalfOpenTimeout = DefaultHalfOpenTimeout
	}
	if opts.Capabilities == nil {
		opts.Capabilities = map[media.MediaType]media.Formats{
			media.Audio: {media.Linear},
			media.Video: {media.VideoUnknown},
		}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	p := &Connections{
		name:            endpoint.Name(),
		endpoint:        endpoint,
		pairing:         opts.Pairing,
		scheduler:       opts.Scheduler,
		components:      opts.Components,
		dsp:             opts.DSP,
		rtp:             opts.RTP,
		capabilities:    opts.Capabilities,
		observer:        opts.Observer,
		halfOpenTimeout: opts.HalfOpenTimeout,
		openTimeout:     opts.OpenTimeout,
		free:            make(map[Type]*deque.Deque[*Connection]),
		size:            make(map[Type]int),
		active:          xsync.NewMapOf[string, *Connection](),
		bridges:         xsync.NewMapOf[pairKey, *LocalChannel](),
		aggregates:      make(map[media.MediaType]*aggregate),
	}

	for _, mt := range media.MediaTypes {
		p.aggregates[mt] = newAggregate(p, mt)
	}

	sizes := map[Type]int{TypeLocal: opts.LocalPoolSize, TypeRTP: opts.RTPPoolSize}
	for _, t := range Types {
		q := &deque.Deque[*Connection]{}
		for i := 0; i < sizes[t]; i++ {
			q.PushBack(newConnection(p.newID(), t, p))
		}
		p.free[t] = q
		p.size[t] = sizes[t]
	}

	slog.Info("[Connections] Pool ready",
		"endpoint", p.name,
		"pairing", p.pairing.String(),
		"local", opts.LocalPoolSize,
		"rtp", opts.RTPPoolSize)
	return p, nil
}

func (p *Connections) newID() string {
	return fmt.Sprintf("%X", p.nextID.Add(1))
}

// Name returns the endpoint name.
func (p *Connections) Name() string { return p.name }

// Pairing returns the bridging rule.
func (p *Connections) Pairing() Pairing { return p.pairing }

func (p *Connections) timeout(s State) time.Duration {
	switch s {
	case StateHalfOpen:
		return p.halfOpenTimeout
	case StateOpen:
		return p.openTimeout
	default:
		return 0
	}
}

// CreateConnection hands out a free connection of the given type.
// It never waits: an exhausted pool fails with ErrResourceUnavailable.
func (p *Connections) CreateConnection(t Type) (*Connection, error) {
	p.mu.Lock()
	q, ok := p.free[t]
	if !ok || q.Len() == 0 {
		p.mu.Unlock()
		slog.Warn("[Connections] Pool exhausted", "endpoint", p.name, "type", t.String())
		p.observer.ConnectionRejected(p.name, t)
		return nil, fmt.Errorf("%w: no free %s connection on %s", ErrResourceUnavailable, t, p.name)
	}
	c := q.PopFront()
	p.active.Store(c.id, c)
	p.mu.Unlock()

	slog.Debug("[Connections] Connection created", "endpoint", p.name, "connection_id", c.id, "type", t.String())
	p.observer.ConnectionCreated(p.name, t)
	p.observer.ActiveChanged(p.name, p.active.Size())
	return c, nil
}

// ReleaseConnection returns a connection to the pool, closing it first if
// it is still bound. Connections that are not active are ignored.
func (p *Connections) ReleaseConnection(c *Connection) {
	if c == nil || c.pool != p {
		return
	}
	if c.State() != StateNull {
		c.Close()
		return
	}
	p.releaseConnection(c)
}

// releaseConnection removes c from the active map, tears down every bridge
// referencing it and pushes it back on its free-list.
func (p *Connections) releaseConnection(c *Connection) {
	p.mu.Lock()
	if _, ok := p.active.LoadAndDelete(c.id); !ok {
		p.mu.Unlock()
		return
	}
	p.removeFromConference(c)
	p.free[c.typ].PushBack(c)
	p.mu.Unlock()

	slog.Debug("[Connections] Connection released", "endpoint", p.name, "connection_id", c.id)
	p.observer.ConnectionReleased(p.name, c.typ)
	p.observer.ActiveChanged(p.name, p.active.Size())
}

// Get returns an active connection by id.
func (p *Connections) Get(id string) (*Connection, bool) {
	return p.active.Load(id)
}

// ActiveCount returns the number of active connections.
func (p *Connections) ActiveCount() int {
	return p.active.Size()
}

// FreeCount returns the number of free connections of a type.
func (p *Connections) FreeCount(t Type) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.free[t]; ok {
		return q.Len()
	}
	return 0
}

// PoolSize returns the configured number of connections of a type.
func (p *Connections) PoolSize(t Type) int {
	return p.size[t]
}

// Active returns a snapshot of the active connections.
func (p *Connections) Active() []*Connection {
	var out []*Connection
	p.active.Range(func(_ string, c *Connection) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Release closes every active connection and reclaims those never bound.
// Used on endpoint shutdown.
func (p *Connections) Release() {
	for _, c := range p.Active() {
		p.ReleaseConnection(c)
	}
	p.bridges.Range(func(key pairKey, lc *LocalChannel) bool {
		if _, ok := p.bridges.LoadAndDelete(key); ok {
			lc.unjoin()
		}
		return true
	})
	for _, mt := range media.MediaTypes {
		if err := p.aggregates[mt].update(func() Mode { return ModeInactive }); err != nil {
			slog.Warn("[Connections] Deactivating endpoint channel failed", "endpoint", p.name, "error", err)
		}
	}
	slog.Info("[Connections] Released", "endpoint", p.name)
}

// Mode returns the endpoint's aggregate mode for a media type.
func (p *Connections) Mode(mt media.MediaType) Mode {
	agg, ok := p.aggregates[mt]
	if !ok {
		return ModeInactive
	}
	return agg.mode()
}

// updateMode derives the aggregate mode from every active connection and
// applies it to the endpoint channel. Relay pools do not aggregate.
func (p *Connections) updateMode(mt media.MediaType) error {
	if p.pairing != PairAll {
		return nil
	}
	agg, ok := p.aggregates[mt]
	if !ok {
		return nil
	}
	return agg.update(func() Mode { return p.deriveMode(mt) })
}

// deriveMode applies first-match precedence: LOOPBACK, SEND_ONLY,
// RECV_ONLY, SEND_RECV, INACTIVE. SEND_RECV and CONFERENCE count as both.
func (p *Connections) deriveMode(mt media.MediaType) Mode {
	var send, recv, loop bool
	p.active.Range(func(_ string, c *Connection) bool {
		switch c.Mode(mt) {
		case ModeSendOnly:
			send = true
		case ModeRecvOnly:
			recv = true
		case ModeSendRecv, ModeConference:
			send, recv = true, true
		case ModeLoopback:
			loop = true
			return false
		}
		return true
	})

	switch {
	case loop:
		return ModeLoopback
	case send && !recv:
		return ModeSendOnly
	case !send && recv:
		return ModeRecvOnly
	case send && recv:
		return ModeSendRecv
	default:
		return ModeInactive
	}
}

// CheckPoint returns endpoint-side counters: 1 endpoint source,
// 2 endpoint sink, 3 endpoint splitter input, 4 endpoint mixer output.
func (p *Connections) CheckPoint(mt media.MediaType, id int) (media.Stats, error) {
	agg, ok := p.aggregates[mt]
	if !ok {
		return media.Stats{}, fmt.Errorf("%w: media %s", ErrUnknownCheckPoint, mt)
	}
	switch id {
	case 1:
		if s := p.endpoint.Source(mt); s != nil {
			return s.Transmitted(), nil
		}
		return media.Stats{}, nil
	case 2:
		if s := p.endpoint.Sink(mt); s != nil {
			return s.Received(), nil
		}
		return media.Stats{}, nil
	case 3:
		return agg.splitter.Input().Received(), nil
	case 4:
		return agg.mixer.Output().Transmitted(), nil
	default:
		return media.Stats{}, fmt.Errorf("%w: %d", ErrUnknownCheckPoint, id)
	}
}

// Report describes the endpoint channels and pool occupancy.
func (p *Connections) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<connections endpoint=%s pairing=%s active=%d bridges=%d>\n",
		p.name, p.pairing, p.ActiveCount(), p.Bridges())
	for _, mt := range media.MediaTypes {
		agg := p.aggregates[mt]
		fmt.Fprintf(&b, "<endpoint-channel media=%s mode=%s>\n%s\n%s\n</endpoint-channel>\n",
			mt, agg.mode(), agg.splitter.Report(), agg.mixer.Report())
	}
	b.WriteString("</connections>")
	return b.String()
}

// Capabilities returns the formats the endpoint works in.
func (p *Connections) Capabilities(mt media.MediaType) media.Formats {
	return p.capabilities[mt]
}

package connection

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// pairKey identifies a bridge by the ordered pair of connection ids.
type pairKey struct {
	a, b string
}

func keyOf(x, y *Connection) pairKey {
	if x.id < y.id {
		return pairKey{a: x.id, b: y.id}
	}
	return pairKey{a: y.id, b: x.id}
}

// party is one side of a bridge.
type party struct {
	conn   *Connection
	source media.Source // leased from the party's audio splitter
	sink   media.Sink   // leased from the party's audio mixer
	send   bool
	recv   bool
}

func (p *party) refresh() {
	m := p.conn.Mode(media.Audio)
	p.send, p.recv = m.canSend(), m.canRecv()
}

func (p *party) release() {
	ch := p.conn.channels[media.Audio]
	if p.source != nil {
		ch.splitter.Release(p.source)
		p.source = nil
	}
	if p.sink != nil {
		ch.mixer.Release(p.sink)
		p.sink = nil
	}
}

// LocalChannel bridges the audio of two connections of one endpoint with
// two independent pipes. Direction A->B runs iff A can send and B can
// receive: B's received media is mixed into what A transmits.
type LocalChannel struct {
	id string

	mu     sync.Mutex
	a, b   party
	ab, ba *component.Pipe
	joined bool
	closed bool
}

// BridgeStats reports per-direction traffic of a bridge.
type BridgeStats struct {
	PacketsA2B int64
	PacketsB2A int64
	BytesA2B   int64
	BytesB2A   int64
}

func newLocalChannel(x, y *Connection) *LocalChannel {
	if y.id < x.id {
		x, y = y, x
	}
	return &LocalChannel{
		id: "bridge-" + uuid.New().String(),
		a:  party{conn: x},
		b:  party{conn: y},
		ab: component.NewPipe(),
		ba: component.NewPipe(),
	}
}

// ID returns the bridge id.
func (lc *LocalChannel) ID() string { return lc.id }

// Parties returns the ids of both connections, lower id first.
func (lc *LocalChannel) Parties() (string, string) {
	return lc.a.conn.id, lc.b.conn.id
}

// Match reports whether c is one of the parties.
func (lc *LocalChannel) Match(c *Connection) bool {
	return lc.a.conn == c || lc.b.conn == c
}

// Running reports which directions currently carry media.
func (lc *LocalChannel) Running() (a2b, b2a bool) {
	return lc.ab.IsRunning(), lc.ba.IsRunning()
}

// Stats returns per-direction counters.
func (lc *LocalChannel) Stats() BridgeStats {
	ab, ba := lc.ab.Stats(), lc.ba.Stats()
	return BridgeStats{
		PacketsA2B: ab.Packets,
		PacketsB2A: ba.Packets,
		BytesA2B:   ab.Bytes,
		BytesB2A:   ba.Bytes,
	}
}

// join leases a splitter output and a mixer input on each side and starts
// the directions the parties' modes allow.
func (lc *LocalChannel) join() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.joined || lc.closed {
		return
	}

	achan := lc.a.conn.channels[media.Audio]
	bchan := lc.b.conn.channels[media.Audio]

	lc.a.source = achan.splitter.NewOutput()
	lc.a.sink = achan.mixer.NewInput()
	lc.b.source = bchan.splitter.NewOutput()
	lc.b.sink = bchan.mixer.NewInput()

	lc.ab.Connect(lc.b.source, lc.a.sink)
	lc.ba.Connect(lc.a.source, lc.b.sink)
	lc.joined = true

	lc.a.refresh()
	lc.b.refresh()
	lc.apply()

	a2b, b2a := lc.ab.IsRunning(), lc.ba.IsRunning()
	slog.Info("[Bridge] Created",
		"bridge_id", lc.id,
		"connection_a", lc.a.conn.id,
		"connection_b", lc.b.conn.id,
		"a2b", a2b,
		"b2a", b2a)
}

// update re-reads both parties' modes and starts or stops each direction
// without tearing the bridge down.
func (lc *LocalChannel) update() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if !lc.joined || lc.closed {
		return
	}
	lc.a.refresh()
	lc.b.refresh()
	lc.apply()

	a2b, b2a := lc.ab.IsRunning(), lc.ba.IsRunning()
	slog.Debug("[Bridge] Updated", "bridge_id", lc.id, "a2b", a2b, "b2a", b2a)
}

func (lc *LocalChannel) apply() {
	gate(lc.ab, lc.a.send && lc.b.recv)
	gate(lc.ba, lc.b.send && lc.a.recv)
}

func gate(p *component.Pipe, run bool) {
	switch {
	case run && !p.IsRunning():
		p.Start()
	case !run && p.IsRunning():
		p.Stop()
	}
}

// unjoin stops and disconnects both pipes and returns the leases.
func (lc *LocalChannel) unjoin() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed {
		return
	}
	lc.closed = true
	if !lc.joined {
		return
	}

	lc.ab.Stop()
	lc.ab.Disconnect()
	lc.ba.Stop()
	lc.ba.Disconnect()
	lc.a.release()
	lc.b.release()

	stats := lc.Stats()
	slog.Info("[Bridge] Destroyed",
		"bridge_id", lc.id,
		"packets_a2b", stats.PacketsA2B,
		"packets_b2a", stats.PacketsB2A,
		"bytes_a2b", stats.BytesA2B,
		"bytes_b2a", stats.BytesB2A)
}

// isMember reports whether an audio mode takes part in bridging: CONFERENCE
// for generic pools, any active mode for relay pools.
func (p *Connections) isMember(m Mode) bool {
	if p.pairing == PairAll {
		return m == ModeConference
	}
	return m != ModeInactive
}

// pairs applies the pool's pairing rule to two distinct connections.
func (p *Connections) pairs(x, y *Connection) bool {
	switch p.pairing {
	case PairLocalRemote:
		return x.typ != y.typ
	case PairRemoteRemote:
		return x.typ == TypeRTP && y.typ == TypeRTP
	default:
		return true
	}
}

// addToConference bridges c with every other active member it pairs with.
// The bridge for a pair is inserted atomically; only the inserting caller
// joins it.
func (p *Connections) addToConference(c *Connection) {
	p.active.Range(func(_ string, other *Connection) bool {
		if other == c || !p.pairs(c, other) || !p.isMember(other.Mode(media.Audio)) {
			return true
		}
		key := keyOf(c, other)
		lc, loaded := p.bridges.LoadOrCompute(key, func() *LocalChannel {
			return newLocalChannel(c, other)
		})
		if loaded {
			return true
		}
		lc.join()

		// Either side may have left while the bridge was being joined.
		if !p.isMember(c.Mode(media.Audio)) || !p.isMember(other.Mode(media.Audio)) {
			p.dropBridge(key, lc)
		}
		p.observer.BridgesChanged(p.name, p.bridges.Size())
		return true
	})
}

// removeFromConference destroys every bridge referencing c.
func (p *Connections) removeFromConference(c *Connection) {
	removed := 0
	p.bridges.Range(func(key pairKey, lc *LocalChannel) bool {
		if lc.Match(c) && p.dropBridge(key, lc) {
			removed++
		}
		return true
	})
	if removed > 0 {
		p.observer.BridgesChanged(p.name, p.bridges.Size())
	}
}

// updateConnectionChannels refreshes the direction gates of every bridge
// referencing c.
func (p *Connections) updateConnectionChannels(c *Connection) {
	p.bridges.Range(func(_ pairKey, lc *LocalChannel) bool {
		if lc.Match(c) {
			lc.update()
		}
		return true
	})
}

// dropBridge removes lc if it is still registered under key and unjoins it.
func (p *Connections) dropBridge(key pairKey, lc *LocalChannel) bool {
	dropped := false
	p.bridges.Compute(key, func(current *LocalChannel, loaded bool) (*LocalChannel, bool) {
		if loaded && current == lc {
			dropped = true
			return current, true
		}
		return current, !loaded
	})
	if dropped {
		lc.unjoin()
	}
	return dropped
}

// Bridges returns the number of live bridges.
func (p *Connections) Bridges() int {
	return p.bridges.Size()
}

// Bridge returns the bridge between two connections.
func (p *Connections) Bridge(x, y *Connection) (*LocalChannel, bool) {
	return p.bridges.Load(keyOf(x, y))
}

// BridgesOf returns every bridge referencing c.
func (p *Connections) BridgesOf(c *Connection) []*LocalChannel {
	var out []*LocalChannel
	p.bridges.Range(func(_ pairKey, lc *LocalChannel) bool {
		if lc.Match(c) {
			out = append(out, lc)
		}
		return true
	})
	return out
}

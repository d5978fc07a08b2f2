package connection

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// pairing joins two local connections: each channel's mixer output feeds
// the other side's splitter input.
type pairing struct {
	a, b *Connection
}

func (p *pairing) other(c *Connection) *Connection {
	if p.a == c {
		return p.b
	}
	return p.a
}

// localVariant is an in-process connection whose transport is another
// local connection, possibly on a different endpoint.
type localVariant struct {
	conn *Connection
	pair atomic.Pointer[pairing]
}

func newLocalVariant(c *Connection) *localVariant {
	return &localVariant{conn: c}
}

func (v *localVariant) onCreated() error { return nil }
func (v *localVariant) onOpened() error  { return nil }
func (v *localVariant) onClosed()        { v.unpair() }
func (v *localVariant) onFailed()        { v.unpair() }

// unpair disconnects both sides. The other connection stays in its state
// but no longer carries media.
func (v *localVariant) unpair() {
	p := v.pair.Swap(nil)
	if p == nil {
		return
	}
	other := p.other(v.conn)
	other.local.pair.CompareAndSwap(p, nil)

	for i, ch := range v.conn.channels {
		ch.disconnectPeer()
		other.channels[i].disconnectPeer()
	}
	slog.Debug("[Connection] Local pair dissolved", "connection_id", v.conn.id, "other_id", other.id)
}

// lockOrder returns a stable ordering key across pools.
func lockOrder(c *Connection) string {
	return c.pool.name + "/" + c.id
}

// SetOtherParty pairs two bound local connections and opens both.
// Closing either side later dissolves the pair.
func (c *Connection) SetOtherParty(other *Connection) error {
	if c.typ != TypeLocal || other == nil || other.typ != TypeLocal {
		return fmt.Errorf("%w: other party requires two local connections", ErrIllegalState)
	}
	if other == c {
		return fmt.Errorf("%w: connection %s cannot pair with itself", ErrIllegalState, c.id)
	}

	first, second := c, other
	if lockOrder(second) < lockOrder(first) {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()

	notices, err := c.pairLocked(other)

	second.mu.Unlock()
	first.mu.Unlock()
	for _, n := range notices {
		n.fire()
	}
	return err
}

func (c *Connection) pairLocked(other *Connection) ([]*notice, error) {
	for _, x := range []*Connection{c, other} {
		if s := x.currentState(); s == StateNull {
			return nil, illegalState("set other party", s)
		}
		if x.local.pair.Load() != nil {
			return nil, fmt.Errorf("%w: connection %s is already paired", ErrIllegalState, x.id)
		}
	}

	p := &pairing{a: c, b: other}
	c.local.pair.Store(p)
	other.local.pair.Store(p)
	for i, ch := range c.channels {
		ch.connectPeer(other.channels[i])
		other.channels[i].connectPeer(ch)
	}

	var notices []*notice
	for _, x := range []*Connection{c, other} {
		if x.currentState() != StateHalfOpen {
			continue
		}
		n, err := x.joinLocked()
		if err != nil {
			return notices, err
		}
		notices = append(notices, n)
	}

	slog.Debug("[Connection] Local pair joined", "connection_id", c.id, "other_id", other.id)
	return notices, nil
}

// OtherParty returns the paired local connection, nil if unpaired.
func (c *Connection) OtherParty() *Connection {
	if c.local == nil {
		return nil
	}
	p := c.local.pair.Load()
	if p == nil {
		return nil
	}
	return p.other(c)
}

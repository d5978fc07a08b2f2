package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/looplab/fsm"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

// Event describes one lifecycle transition.
type Event struct {
	Connection *Connection
	Old        State
	New        State
}

// Listener observes lifecycle transitions. Panics are recovered and logged.
type Listener interface {
	StateChanged(e Event)
}

// FailureListener is told when the transport of a connection fails.
// It runs on a transport goroutine, after the connection has been closed.
type FailureListener interface {
	ConnectionFailed(c *Connection, err error)
}

// variant is the kind-specific part of a connection.
type variant interface {
	// onCreated runs on bind, before the state changes.
	onCreated() error
	// onOpened runs on join, before the state changes.
	onOpened() error
	// onClosed runs on close after the channels are inactive.
	onClosed()
	// onFailed force-closes the transport after an asynchronous failure.
	onFailed()
}

// Connection is one call leg attached to an endpoint. Lifecycle
// transitions, mode changes and the heartbeat are serialized by mu.
type Connection struct {
	id   string
	typ  Type
	pool *Connections

	mu        sync.Mutex
	state     *fsm.FSM
	ttl       int
	heartbeat *scheduler.Task
	channels  []*Channel

	variant variant
	local   *localVariant
	rtp     *rtpVariant

	listenersMu sync.RWMutex
	listeners   []Listener
	failure     FailureListener
}

func newConnection(id string, typ Type, pool *Connections) *Connection {
	c := &Connection{
		id:   id,
		typ:  typ,
		pool: pool,
		state: fsm.NewFSM(
			fsmNull,
			fsm.Events{
				{Name: eventBind, Src: []string{fsmNull}, Dst: fsmHalfOpen},
				{Name: eventJoin, Src: []string{fsmHalfOpen}, Dst: fsmOpen},
				{Name: eventClose, Src: []string{fsmHalfOpen, fsmOpen}, Dst: fsmNull},
			},
			fsm.Callbacks{},
		),
	}
	c.heartbeat = scheduler.NewTask("heartbeat-"+id, c.tick)

	for _, mt := range media.MediaTypes {
		agg := pool.aggregates[mt]
		ch := newChannel(c, mt, pool.components, agg.mixer, agg.splitter)
		if mt == media.Audio {
			ch.membership = pool
		}
		c.channels = append(c.channels, ch)
	}

	switch typ {
	case TypeRTP:
		c.rtp = newRTPVariant(c)
		c.variant = c.rtp
	default:
		c.local = newLocalVariant(c)
		c.variant = c.local
	}
	return c
}

// ID returns the identifier, unique within the owning pool.
func (c *Connection) ID() string { return c.id }

// Type returns the connection type.
func (c *Connection) Type() Type { return c.typ }

// Endpoint returns the name of the owning endpoint.
func (c *Connection) Endpoint() string { return c.pool.name }

// State returns the lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentState()
}

func (c *Connection) currentState() State {
	return stateFromFSM(c.state.Current())
}

// Mode returns the mode of one media type. It does not block.
func (c *Connection) Mode(mt media.MediaType) Mode {
	ch := c.Channel(mt)
	if ch == nil {
		return ModeInactive
	}
	return ch.Mode()
}

// Channel returns the channel of a media type, nil if unsupported.
func (c *Connection) Channel(mt media.MediaType) *Channel {
	if int(mt) < 0 || int(mt) >= len(c.channels) {
		return nil
	}
	return c.channels[mt]
}

// AddListener registers a lifecycle listener.
func (c *Connection) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters a lifecycle listener.
func (c *Connection) RemoveListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// SetFailureListener registers the transport failure listener.
func (c *Connection) SetFailureListener(l FailureListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.failure = l
}

// Bind moves NULL -> HALF_OPEN and arms the heartbeat. Only connections
// handed out by CreateConnection and not yet released can be bound; a
// handle is invalid once its connection is closed.
func (c *Connection) Bind() error {
	c.mu.Lock()
	n, err := c.bindLocked()
	c.mu.Unlock()
	n.fire()
	return err
}

func (c *Connection) bindLocked() (*notice, error) {
	if cur, ok := c.pool.active.Load(c.id); !ok || cur != c {
		return nil, fmt.Errorf("%w: connection %s is not taken from its pool", ErrIllegalState, c.id)
	}
	if !c.state.Can(eventBind) {
		return nil, illegalState(eventBind, c.currentState())
	}
	if err := c.variant.onCreated(); err != nil {
		return nil, err
	}
	if err := c.state.Event(context.Background(), eventBind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalState, err)
	}
	c.arm(StateHalfOpen)

	slog.Debug("[Connection] Bound", "connection_id", c.id, "endpoint", c.pool.name, "type", c.typ.String())
	return c.notice(StateNull, StateHalfOpen), nil
}

// Join moves HALF_OPEN -> OPEN.
func (c *Connection) Join() error {
	c.mu.Lock()
	n, err := c.joinLocked()
	c.mu.Unlock()
	n.fire()
	return err
}

func (c *Connection) joinLocked() (*notice, error) {
	if !c.state.Can(eventJoin) {
		return nil, illegalState(eventJoin, c.currentState())
	}
	if err := c.variant.onOpened(); err != nil {
		return nil, err
	}
	if err := c.state.Event(context.Background(), eventJoin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalState, err)
	}
	c.arm(StateOpen)

	slog.Debug("[Connection] Joined", "connection_id", c.id, "endpoint", c.pool.name)
	return c.notice(StateHalfOpen, StateOpen), nil
}

// Close tears the connection down and returns it to its pool.
// Closing a NULL connection is a no-op.
func (c *Connection) Close() {
	c.mu.Lock()
	n := c.closeLocked()
	c.mu.Unlock()
	n.fire()
}

func (c *Connection) closeLocked() *notice {
	old := c.currentState()
	if old == StateNull || !c.state.Can(eventClose) {
		return nil
	}

	for _, ch := range c.channels {
		if err := ch.SetMode(ModeInactive); err != nil {
			slog.Warn("[Connection] Deactivating channel failed",
				"connection_id", c.id, "media", ch.mediaType.String(), "error", err)
		}
	}
	for _, ch := range c.channels {
		if err := c.pool.updateMode(ch.mediaType); err != nil {
			slog.Warn("[Connection] Endpoint mode update failed",
				"connection_id", c.id, "media", ch.mediaType.String(), "error", err)
		}
	}
	c.variant.onClosed()

	if err := c.state.Event(context.Background(), eventClose); err != nil {
		slog.Error("[Connection] Close transition rejected", "connection_id", c.id, "error", err)
	}
	c.heartbeat.Cancel()

	n := c.notice(old, StateNull)
	c.listenersMu.Lock()
	c.listeners = nil
	c.failure = nil
	c.listenersMu.Unlock()

	c.pool.releaseConnection(c)

	slog.Debug("[Connection] Closed", "connection_id", c.id, "endpoint", c.pool.name, "old_state", old.String())
	return n
}

// arm sets the time-to-live for the state just entered and queues the
// heartbeat. A non-positive timeout never expires.
func (c *Connection) arm(s State) {
	timeout := c.pool.timeout(s)
	if timeout <= 0 {
		c.ttl = -1
	} else {
		c.ttl = int(timeout/c.pool.scheduler.HeartbeatQuantum()) + 1
	}
	c.heartbeat.Rearm()
	c.pool.scheduler.SubmitHeartbeat(c.heartbeat)
}

// TTL returns the remaining heartbeat ticks, -1 when unlimited.
func (c *Connection) TTL() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

func (c *Connection) tick() {
	c.mu.Lock()
	if c.currentState() == StateNull {
		c.mu.Unlock()
		return
	}
	if c.ttl > 0 {
		c.ttl--
	}
	if c.ttl == 0 {
		state := c.currentState()
		n := c.closeLocked()
		c.mu.Unlock()

		slog.Warn("[Connection] Heartbeat expired", "connection_id", c.id, "endpoint", c.pool.name, "state", state.String())
		c.pool.observer.HeartbeatEvicted(c.pool.name)
		n.fire()
		return
	}
	c.pool.scheduler.SubmitHeartbeat(c.heartbeat)
	c.mu.Unlock()
}

// SetMode switches the mode of one media type and updates the endpoint's
// aggregate mode. When the new mode is rejected the previous mode is
// restored and the rejection returned.
func (c *Connection) SetMode(m Mode, mt media.MediaType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s := c.currentState(); s == StateNull {
		return illegalState("set mode", s)
	}
	ch := c.Channel(mt)
	if ch == nil {
		return &ModeError{Mode: m, Err: fmt.Errorf("media %s not supported", mt)}
	}

	prev := ch.Mode()
	err := ch.SetMode(m)
	if err == nil {
		err = c.pool.updateMode(mt)
	}
	if err == nil {
		if prev != m {
			c.pool.observer.ModeChanged(mt, m)
		}
		return nil
	}

	if errors.Is(err, ErrModeNotSupported) && ch.Mode() != prev {
		slog.Warn("[Connection] Mode rejected, rolling back",
			"connection_id", c.id,
			"media", mt.String(),
			"mode", m.String(),
			"previous_mode", prev.String(),
			"error", err)
		if rbErr := ch.SetMode(prev); rbErr != nil {
			slog.Warn("[Connection] Rollback failed, deactivating",
				"connection_id", c.id, "media", mt.String(), "error", rbErr)
			_ = ch.SetMode(ModeInactive)
		}
		if upErr := c.pool.updateMode(mt); upErr != nil {
			slog.Warn("[Connection] Endpoint mode update failed after rollback",
				"connection_id", c.id, "media", mt.String(), "error", upErr)
		}
	}
	return err
}

// SetAudioMode is SetMode for the audio channel.
func (c *Connection) SetAudioMode(m Mode) error {
	return c.SetMode(m, media.Audio)
}

// CheckPoint returns packet and byte counters. Ids 1-4 are endpoint-side
// points, 5-10 belong to the connection's channel.
func (c *Connection) CheckPoint(mt media.MediaType, id int) (media.Stats, error) {
	if id >= 1 && id <= 4 {
		return c.pool.CheckPoint(mt, id)
	}
	ch := c.Channel(mt)
	if ch == nil {
		return media.Stats{}, fmt.Errorf("%w: media %s", ErrUnknownCheckPoint, mt)
	}
	return ch.CheckPoint(id)
}

// SetGain sets the gain of the audio mixer in dB.
func (c *Connection) SetGain(db float64) {
	c.channels[media.Audio].mixer.SetGain(db)
}

// SetDTMFClamp makes the audio splitter drop telephone-event frames.
func (c *Connection) SetDTMFClamp(clamp bool) {
	c.channels[media.Audio].splitter.SetDTMFClamp(clamp)
}

// Report describes the connection and its channels.
func (c *Connection) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<connection id=%s type=%s state=%s>\n", c.id, c.typ, c.State())
	for _, ch := range c.channels {
		fmt.Fprintf(&b, "<channel media=%s mode=%s>\n%s\n</channel>\n", ch.mediaType, ch.Mode(), ch.Report())
	}
	b.WriteString("</connection>")
	return b.String()
}

// fail handles an asynchronous transport failure: the transport is
// force-closed, the connection closed, and the failure listener told.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.currentState() == StateNull {
		c.mu.Unlock()
		return
	}
	c.variant.onFailed()

	c.listenersMu.RLock()
	fl := c.failure
	c.listenersMu.RUnlock()

	n := c.closeLocked()
	c.mu.Unlock()

	slog.Warn("[Connection] Transport failed", "connection_id", c.id, "endpoint", c.pool.name, "error", err)
	c.pool.observer.TransportFailed(c.pool.name)
	if fl != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("[Connection] Failure listener panicked", "connection_id", c.id, "panic", r)
				}
			}()
			fl.ConnectionFailed(c, err)
		}()
	}
	n.fire()
}

// notice is a transition waiting to be delivered once the lock is released.
type notice struct {
	event     Event
	listeners []Listener
}

func (c *Connection) notice(old, new State) *notice {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	return &notice{
		event:     Event{Connection: c, Old: old, New: new},
		listeners: append([]Listener(nil), c.listeners...),
	}
}

func (n *notice) fire() {
	if n == nil {
		return
	}
	for _, l := range n.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("[Connection] Listener panicked",
						"connection_id", n.event.Connection.id,
						"new_state", n.event.New.String(),
						"panic", r)
				}
			}()
			l.StateChanged(n.event)
		}()
	}
}

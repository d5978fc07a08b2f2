package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Transport is the network side of a channel: frames written to Input go
// to the peer, frames from the peer come out of Output.
type Transport interface {
	Input() media.Sink
	Output() media.Source
}

// membership is the conference bookkeeping a channel reports to.
// Only the audio channel of a connection carries one.
type membership interface {
	isMember(m Mode) bool
	addToConference(c *Connection)
	removeFromConference(c *Connection)
	updateConnectionChannels(c *Connection)
}

// Channel carries one media type of one connection. It owns a mixer
// (media toward the connection's peer) and a splitter (media from the
// peer) and wires them to the endpoint according to the active mode.
type Channel struct {
	mediaType media.MediaType
	owner     *Connection

	mixer    *component.Mixer
	splitter *component.Splitter

	endpointMixer    media.Mixer
	endpointSplitter media.Splitter
	membership       membership

	mu        sync.Mutex
	active    atomic.Pointer[executor]
	txPipe    *component.Pipe
	rxPipe    *component.Pipe
	transport Transport
	peer      *Channel
	mediaTime time.Duration
}

func newChannel(owner *Connection, mt media.MediaType, factory *component.Factory, endpointMixer media.Mixer, endpointSplitter media.Splitter) *Channel {
	id := fmt.Sprintf("%s-%s", owner.id, mt)
	return &Channel{
		mediaType:        mt,
		owner:            owner,
		mixer:            factory.NewMixer(id+"-mixer", mt),
		splitter:         factory.NewSplitter(id+"-splitter", mt),
		endpointMixer:    endpointMixer,
		endpointSplitter: endpointSplitter,
		txPipe:           component.NewPipe(),
		rxPipe:           component.NewPipe(),
	}
}

// MediaType returns the media type carried.
func (ch *Channel) MediaType() media.MediaType { return ch.mediaType }

// Mode returns the active mode. It never blocks on a mode switch.
func (ch *Channel) Mode() Mode {
	return modeOf(ch.active.Load())
}

// IsRTP reports whether the channel is wired to a network transport
// rather than to another channel.
func (ch *Channel) IsRTP() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.transport != nil
}

func (ch *Channel) member(m Mode) bool {
	return ch.membership != nil && ch.membership.isMember(m)
}

// SetMode switches the active mode. Requesting the active mode is a no-op.
// The new executor is published before the old one is deactivated; an
// activation failure leaves the requested mode published with nothing
// leased and is returned as a *ModeError.
func (ch *Channel) SetMode(m Mode) error {
	if !validMode(m) {
		return &ModeError{Mode: m, Err: fmt.Errorf("unrecognized mode")}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	old := ch.active.Load()
	oldMode := modeOf(old)
	if oldMode == m {
		return nil
	}

	var next *executor
	if m != ModeInactive {
		next = newExecutor(m)
	}
	ch.active.Store(next)

	wasMember, isMember := ch.member(oldMode), ch.member(m)
	if old != nil {
		if wasMember && !isMember {
			ch.membership.removeFromConference(ch.owner)
		}
		old.deactivate()
	}

	var err error
	if next != nil {
		if isMember && !wasMember {
			ch.membership.addToConference(ch.owner)
		}
		if activateErr := ch.activate(next); activateErr != nil {
			err = &ModeError{Mode: m, Err: activateErr}
		}
	}
	if wasMember && isMember {
		ch.membership.updateConnectionChannels(ch.owner)
	}

	slog.Debug("[Channel] Mode changed",
		"connection_id", ch.owner.id,
		"media", ch.mediaType.String(),
		"old_mode", oldMode.String(),
		"mode", m.String(),
		"error", err)
	return err
}

func (ch *Channel) activate(e *executor) (err error) {
	defer func() {
		if err != nil {
			e.deactivate()
		}
	}()

	switch e.mode {
	case ModeRecvOnly:
		return ch.activateRecv(e)
	case ModeSendOnly:
		return ch.activateSend(e)
	case ModeSendRecv, ModeConference:
		if err := ch.activateRecv(e); err != nil {
			return err
		}
		return ch.activateSend(e)
	case ModeNetworkLoopback, ModeLoopback:
		return ch.activateLoop(e)
	}
	return nil
}

// activateRecv routes media from the peer to the endpoint:
// connection splitter -> endpoint mixer.
func (ch *Channel) activateRecv(e *executor) error {
	l := e.add(newLeg(legRecv))

	source := ch.splitter.NewOutput()
	l.lease(func() { ch.splitter.Release(source) })
	sink := ch.endpointMixer.NewInput()
	l.lease(func() { ch.endpointMixer.Release(sink) })

	l.connect(source, sink)
	l.pipe.Start()

	ch.splitter.Input().Start()
	ch.rxPipe.Start()
	l.onStop(ch.rxPipe.Stop)
	return nil
}

// activateSend routes media from the endpoint to the peer:
// endpoint splitter -> connection mixer -> transport or paired channel.
func (ch *Channel) activateSend(e *executor) error {
	l := e.add(newLeg(legSend))

	source := ch.endpointSplitter.NewOutput()
	l.lease(func() { ch.endpointSplitter.Release(source) })
	sink := ch.mixer.NewInput()
	l.lease(func() { ch.mixer.Release(sink) })

	if err := ch.negotiateOutput(); err != nil {
		return err
	}

	l.connect(source, sink)
	ch.startMixer(l)
	l.pipe.Start()
	ch.startTx(l)
	return nil
}

// activateLoop echoes media from the peer back to it:
// connection splitter -> connection mixer.
func (ch *Channel) activateLoop(e *executor) error {
	l := e.add(newLeg(legLoop))

	source := ch.splitter.NewOutput()
	l.lease(func() { ch.splitter.Release(source) })
	sink := ch.mixer.NewInput()
	l.lease(func() { ch.mixer.Release(sink) })

	if err := ch.negotiateOutput(); err != nil {
		return err
	}

	l.connect(source, sink)
	ch.startMixer(l)
	l.pipe.Start()
	ch.splitter.Input().Start()
	ch.rxPipe.Start()
	l.onStop(ch.rxPipe.Stop)
	ch.startTx(l)
	return nil
}

// negotiateOutput restricts the mixer output to what the transport accepts.
func (ch *Channel) negotiateOutput() error {
	if ch.transport == nil {
		return nil
	}
	formats := ch.transport.Input().Formats()
	if formats.IsEmpty() {
		return nil
	}
	return ch.mixer.Output().SetFormats(formats)
}

func (ch *Channel) startMixer(l *leg) {
	ch.mixer.Output().SetMediaTime(ch.mediaTime)
	ch.mixer.Start()
	l.onStop(func() {
		ch.mediaTime = ch.mixer.Output().MediaTime()
		ch.mixer.Stop()
	})
}

func (ch *Channel) startTx(l *leg) {
	if ch.txPipe.IsConnected() {
		ch.txPipe.Start()
	}
	l.onStop(ch.txPipe.Stop)
}

// connectTransport wires the channel to a network transport.
func (ch *Channel) connectTransport(t Transport) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.transport = t
	ch.txPipe.Connect(ch.mixer.Output(), t.Input())
	ch.rxPipe.Connect(t.Output(), ch.splitter.Input())
}

// renegotiate re-applies output negotiation after the transport's formats
// changed under an active sending mode.
func (ch *Channel) renegotiate() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if e := ch.active.Load(); e == nil || !e.sends() {
		return nil
	}
	return ch.negotiateOutput()
}

// connectPeer feeds this channel's mixer output into the other channel's
// splitter. The pipe starts at once if the channel is already sending.
func (ch *Channel) connectPeer(other *Channel) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.peer = other
	ch.txPipe.Connect(ch.mixer.Output(), other.splitter.Input())
	other.splitter.Input().Start()
	if e := ch.active.Load(); e != nil && e.sends() {
		ch.txPipe.Start()
	}
}

func (ch *Channel) disconnectPeer() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.peer = nil
	ch.txPipe.Stop()
	ch.txPipe.Disconnect()
}

// Peer returns the paired channel of a local connection.
func (ch *Channel) Peer() *Channel {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.peer
}

// CheckPoint returns the counters at one point of the channel:
// 5 send source, 6 receive sink, 7 send sink, 8 receive source,
// 9 mixer output, 10 splitter input.
func (ch *Channel) CheckPoint(id int) (media.Stats, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	e := ch.active.Load()
	switch id {
	case 5:
		return e.leg(legSend).sourceStats(), nil
	case 6:
		return e.leg(legRecv).sinkStats(), nil
	case 7:
		return e.leg(legSend).sinkStats(), nil
	case 8:
		return e.leg(legRecv).sourceStats(), nil
	case 9:
		return ch.mixer.Output().Transmitted(), nil
	case 10:
		return ch.splitter.Input().Received(), nil
	default:
		return media.Stats{}, fmt.Errorf("%w: %d", ErrUnknownCheckPoint, id)
	}
}

// Report describes the channel's splitter and mixer.
func (ch *Channel) Report() string {
	return ch.splitter.Report() + "\n" + ch.mixer.Report()
}

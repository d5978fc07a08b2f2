package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// aggregate is the endpoint-side channel of one media type. Connections
// lease from its mixer (what they receive) and splitter (what they send);
// its mode wires those to the endpoint's own source and sink.
type aggregate struct {
	pool      *Connections
	mediaType media.MediaType
	mixer     *component.Mixer
	splitter  *component.Splitter

	mu     sync.Mutex
	active atomic.Pointer[executor]
}

func newAggregate(p *Connections, mt media.MediaType) *aggregate {
	id := fmt.Sprintf("%s-%s", p.name, mt)
	return &aggregate{
		pool:      p,
		mediaType: mt,
		mixer:     p.components.NewMixer(id+"-mixer", mt),
		splitter:  p.components.NewSplitter(id+"-splitter", mt),
	}
}

func (a *aggregate) mode() Mode {
	return modeOf(a.active.Load())
}

// update derives and applies the aggregate mode under one lock so that
// concurrent connection mode changes cannot apply a stale derivation.
func (a *aggregate) update(derive func() Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m := derive()
	old := a.active.Load()
	oldMode := modeOf(old)
	if oldMode == m {
		return nil
	}

	var next *executor
	if m != ModeInactive {
		next = newExecutor(m)
	}
	a.active.Store(next)
	if old != nil {
		old.deactivate()
	}

	var err error
	if next != nil {
		if activateErr := a.activate(next); activateErr != nil {
			err = &ModeError{Mode: m, Err: activateErr}
		}
	}

	slog.Debug("[Connections] Endpoint mode changed",
		"endpoint", a.pool.name,
		"media", a.mediaType.String(),
		"old_mode", oldMode.String(),
		"mode", m.String(),
		"error", err)
	a.notify(oldMode, m)
	return err
}

func (a *aggregate) notify(old, new Mode) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("[Connections] Endpoint mode listener panicked", "endpoint", a.pool.name, "panic", r)
		}
	}()
	a.pool.endpoint.ModeUpdated(old, new)
}

func (a *aggregate) activate(e *executor) (err error) {
	defer func() {
		if err != nil {
			e.deactivate()
		}
	}()

	switch e.mode {
	case ModeSendOnly:
		return a.activateSend(e)
	case ModeRecvOnly:
		return a.activateRecv(e)
	case ModeSendRecv:
		if err := a.activateRecv(e); err != nil {
			return err
		}
		return a.activateSend(e)
	case ModeLoopback:
		return a.activateLoop(e)
	}
	return fmt.Errorf("endpoint channel cannot run %s", e.mode)
}

// activateSend feeds the endpoint's source to every connection:
// endpoint source -> endpoint splitter.
func (a *aggregate) activateSend(e *executor) error {
	source := a.pool.endpoint.Source(a.mediaType)
	if source == nil {
		return nil
	}
	if err := a.splitter.Input().SetFormats(source.Formats()); err != nil {
		return err
	}
	l := e.add(newLeg(legSend))
	l.connect(source, a.splitter.Input())
	l.pipe.Start()
	return nil
}

// activateRecv delivers the mix of every connection to the endpoint:
// endpoint mixer -> endpoint sink.
func (a *aggregate) activateRecv(e *executor) error {
	sink := a.pool.endpoint.Sink(a.mediaType)
	if sink == nil {
		return nil
	}
	if formats := sink.Formats(); !formats.IsEmpty() {
		if err := a.mixer.Output().SetFormats(formats); err != nil {
			return err
		}
	}
	l := e.add(newLeg(legRecv))
	l.connect(a.mixer.Output(), sink)
	a.mixer.Start()
	l.onStop(a.mixer.Stop)
	l.pipe.Start()
	return nil
}

// activateLoop returns the endpoint's own media to it:
// endpoint source -> endpoint sink.
func (a *aggregate) activateLoop(e *executor) error {
	source := a.pool.endpoint.Source(a.mediaType)
	sink := a.pool.endpoint.Sink(a.mediaType)
	if source == nil || sink == nil {
		return nil
	}
	l := e.add(newLeg(legLoop))
	l.connect(source, sink)
	l.pipe.Start()
	return nil
}

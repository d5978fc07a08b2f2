package connection

import (
	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

type legKind int

const (
	legSend legKind = iota
	legRecv
	legLoop
)

// leg is one leased media path: a source wired through a pipe into a sink.
// close stops the pipe, runs the stop hooks and returns every lease, in
// reverse order of acquisition.
type leg struct {
	kind   legKind
	pipe   *component.Pipe
	source media.Source
	sink   media.Sink

	stops    []func()
	releases []func()
}

func newLeg(kind legKind) *leg {
	return &leg{kind: kind, pipe: component.NewPipe()}
}

// lease records the release of a leased component.
func (l *leg) lease(release func()) {
	l.releases = append(l.releases, release)
}

// onStop records work undone before the pipe is disconnected.
func (l *leg) onStop(stop func()) {
	l.stops = append(l.stops, stop)
}

func (l *leg) connect(source media.Source, sink media.Sink) {
	l.source, l.sink = source, sink
	l.pipe.Connect(source, sink)
}

func (l *leg) close() {
	for i := len(l.stops) - 1; i >= 0; i-- {
		l.stops[i]()
	}
	l.pipe.Stop()
	l.pipe.Disconnect()
	for i := len(l.releases) - 1; i >= 0; i-- {
		l.releases[i]()
	}
	l.stops, l.releases = nil, nil
}

func (l *leg) sourceStats() media.Stats {
	if l == nil || l.source == nil {
		return media.Stats{}
	}
	return l.source.Transmitted()
}

func (l *leg) sinkStats() media.Stats {
	if l == nil || l.sink == nil {
		return media.Stats{}
	}
	return l.sink.Received()
}

// executor is the wiring of one active mode. SEND_RECV and CONFERENCE
// hold a receive leg and a send leg; the loopback modes hold one loop leg.
type executor struct {
	mode Mode
	legs []*leg
}

func newExecutor(m Mode) *executor {
	return &executor{mode: m}
}

func (e *executor) add(l *leg) *leg {
	e.legs = append(e.legs, l)
	return l
}

func (e *executor) leg(kind legKind) *leg {
	if e == nil {
		return nil
	}
	for _, l := range e.legs {
		if l.kind == kind {
			return l
		}
	}
	return nil
}

// deactivate closes every leg, last activated first.
func (e *executor) deactivate() {
	for i := len(e.legs) - 1; i >= 0; i-- {
		e.legs[i].close()
	}
	e.legs = nil
}

func (e *executor) sends() bool {
	switch e.mode {
	case ModeSendOnly, ModeSendRecv, ModeConference, ModeNetworkLoopback, ModeLoopback:
		return true
	}
	return false
}

func modeOf(e *executor) Mode {
	if e == nil {
		return ModeInactive
	}
	return e.mode
}

func validMode(m Mode) bool {
	_, ok := modeNames[m]
	return ok
}

package component

import (
	"sync"
	"sync/atomic"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Pipe joins one source to one sink. Frames flow only while the pipe runs.
type Pipe struct {
	mu     sync.RWMutex
	source media.Source
	sink   media.Sink

	running atomic.Bool
	counter media.Counter
}

// NewPipe creates an unconnected pipe.
func NewPipe() *Pipe {
	return &Pipe{}
}

// Connect attaches both ends. Either may be nil to keep the current one.
func (p *Pipe) Connect(source media.Source, sink media.Sink) {
	if source != nil {
		p.ConnectSource(source)
	}
	if sink != nil {
		p.ConnectSink(sink)
	}
}

// ConnectSource attaches the upstream end and binds it to this pipe.
func (p *Pipe) ConnectSource(source media.Source) {
	p.mu.Lock()
	p.source = source
	p.mu.Unlock()
	source.Bind(p)
}

// ConnectSink attaches the downstream end.
func (p *Pipe) ConnectSink(sink media.Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// Start enables forwarding and starts both ends.
func (p *Pipe) Start() {
	p.mu.RLock()
	source, sink := p.source, p.sink
	p.mu.RUnlock()

	if sink != nil {
		sink.Start()
	}
	if source != nil {
		source.Start()
	}
	p.running.Store(true)
}

// Stop disables forwarding. The ends keep running since they may be
// shared with other pipes.
func (p *Pipe) Stop() {
	p.running.Store(false)
}

// Disconnect stops the pipe and detaches both ends.
func (p *Pipe) Disconnect() {
	p.running.Store(false)

	p.mu.Lock()
	source := p.source
	p.source = nil
	p.sink = nil
	p.mu.Unlock()

	if source != nil {
		source.Bind(nil)
	}
}

// IsRunning reports whether frames are forwarded.
func (p *Pipe) IsRunning() bool {
	return p.running.Load()
}

// IsConnected reports whether both ends are attached.
func (p *Pipe) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source != nil && p.sink != nil
}

// WriteFrame forwards a frame from the source to the sink.
func (p *Pipe) WriteFrame(f media.Frame) error {
	if !p.running.Load() {
		return nil
	}
	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()
	if sink == nil {
		return nil
	}
	p.counter.Add(len(f.Payload))
	return sink.WriteFrame(f)
}

// Stats returns the forwarded totals.
func (p *Pipe) Stats() media.Stats {
	return p.counter.Snapshot()
}

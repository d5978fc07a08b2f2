// Package component holds the in-process media elements the connection core
// wires together: pipes, splitters and mixers, plus generic source and sink
// implementations they are built from.
package component

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

type base struct {
	id      string
	started atomic.Bool
}

func (b *base) ID() string      { return b.id }
func (b *base) Start()          { b.started.Store(true) }
func (b *base) Stop()           { b.started.Store(false) }
func (b *base) IsStarted() bool { return b.started.Load() }

// negotiate intersects requested formats with the supported set.
// A nil supported set accepts anything.
func negotiate(supported, requested media.Formats) (media.Formats, error) {
	if supported == nil {
		return requested, nil
	}
	got := requested.Intersect(supported)
	if got.IsEmpty() {
		return nil, fmt.Errorf("%w: requested %s, supported %s", media.ErrFormatNotSupported, requested, supported)
	}
	return got, nil
}

// Output is a Source that emits whatever frames its owner hands to Emit.
type Output struct {
	base

	mu        sync.RWMutex
	writer    media.FrameWriter
	formats   media.Formats
	supported media.Formats

	counter   media.Counter
	mediaTime atomic.Int64
}

// NewOutput creates a source able to produce the supported formats
// (nil means any format).
func NewOutput(id string, supported media.Formats) *Output {
	return &Output{base: base{id: id}, supported: supported, formats: supported}
}

// Bind sets the downstream writer.
func (o *Output) Bind(w media.FrameWriter) {
	o.mu.Lock()
	o.writer = w
	o.mu.Unlock()
}

// Formats returns the currently selected formats.
func (o *Output) Formats() media.Formats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.formats
}

// SetFormats selects the formats to emit.
func (o *Output) SetFormats(fs media.Formats) error {
	got, err := negotiate(o.supported, fs)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.formats = got
	o.mu.Unlock()
	return nil
}

// Emit pushes a frame downstream. Frames are dropped while stopped or unbound.
func (o *Output) Emit(f media.Frame) error {
	if !o.IsStarted() {
		return nil
	}
	o.mu.RLock()
	w := o.writer
	o.mu.RUnlock()
	if w == nil {
		return nil
	}
	o.counter.Add(len(f.Payload))
	o.mediaTime.Add(int64(f.Duration))
	return w.WriteFrame(f)
}

// Transmitted returns the emitted totals.
func (o *Output) Transmitted() media.Stats { return o.counter.Snapshot() }

// MediaTime returns the accumulated duration of emitted frames.
func (o *Output) MediaTime() time.Duration { return time.Duration(o.mediaTime.Load()) }

// SetMediaTime restores a media time, e.g. after re-activation.
func (o *Output) SetMediaTime(t time.Duration) { o.mediaTime.Store(int64(t)) }

// Input is a Sink handing accepted frames to a handler.
type Input struct {
	base

	mu        sync.RWMutex
	formats   media.Formats
	supported media.Formats
	handle    func(media.Frame) error

	counter media.Counter
}

// NewInput creates a sink accepting the supported formats (nil means any).
// handle may be nil, in which case frames are only counted.
func NewInput(id string, supported media.Formats, handle func(media.Frame) error) *Input {
	return &Input{base: base{id: id}, supported: supported, formats: supported, handle: handle}
}

// WriteFrame accepts a frame while the sink is started.
func (in *Input) WriteFrame(f media.Frame) error {
	if !in.IsStarted() {
		return nil
	}
	in.counter.Add(len(f.Payload))
	if in.handle == nil {
		return nil
	}
	return in.handle(f)
}

// Formats returns the currently accepted formats.
func (in *Input) Formats() media.Formats {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.formats
}

// SetFormats selects the formats to accept.
func (in *Input) SetFormats(fs media.Formats) error {
	got, err := negotiate(in.supported, fs)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.formats = got
	in.mu.Unlock()
	return nil
}

// Received returns the accepted totals.
func (in *Input) Received() media.Stats { return in.counter.Snapshot() }

var (
	_ media.Source = (*Output)(nil)
	_ media.Sink   = (*Input)(nil)
)

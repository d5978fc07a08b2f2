package media

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats is a packets/bytes snapshot taken at one point of the media path.
type Stats struct {
	Packets int64
	Bytes   int64
}

func (s Stats) String() string {
	return fmt.Sprintf("frame=%d, bytes=%d", s.Packets, s.Bytes)
}

// Counter accumulates packet and byte counts. Safe for concurrent use.
type Counter struct {
	packets atomic.Int64
	bytes   atomic.Int64
}

// Add records one packet of n bytes.
func (c *Counter) Add(n int) {
	c.packets.Add(1)
	c.bytes.Add(int64(n))
}

// Snapshot returns the current totals.
func (c *Counter) Snapshot() Stats {
	return Stats{Packets: c.packets.Load(), Bytes: c.bytes.Load()}
}

// Reset clears the totals.
func (c *Counter) Reset() {
	c.packets.Store(0)
	c.bytes.Store(0)
}

// Component is the lifecycle shared by every media element.
type Component interface {
	// ID returns a name unique enough for logs and reports.
	ID() string
	Start()
	Stop()
	IsStarted() bool
}

// FrameWriter accepts frames pushed downstream.
type FrameWriter interface {
	WriteFrame(f Frame) error
}

// Source produces frames. A source pushes into at most one writer,
// normally the pipe it has been connected to.
type Source interface {
	Component

	// Bind sets the downstream writer; nil unbinds.
	Bind(w FrameWriter)

	// Formats returns the formats this source currently emits.
	Formats() Formats

	// SetFormats restricts the emitted formats.
	// Returns ErrFormatNotSupported if none can be produced.
	SetFormats(fs Formats) error

	// Transmitted returns the packets/bytes emitted so far.
	Transmitted() Stats

	MediaTime() time.Duration
	SetMediaTime(t time.Duration)
}

// Sink consumes frames.
type Sink interface {
	Component
	FrameWriter

	// Formats returns the formats this sink accepts.
	Formats() Formats

	// SetFormats restricts the accepted formats.
	// Returns ErrFormatNotSupported if none can be consumed.
	SetFormats(fs Formats) error

	// Received returns the packets/bytes consumed so far.
	Received() Stats
}

// Mixer merges any number of leased inputs into one output.
type Mixer interface {
	NewInput() Sink
	Output() Source
	Release(input Sink)
	Start()
	Stop()
	SetGain(db float64)
	Report() string
}

// Splitter fans one input out to any number of leased outputs.
type Splitter interface {
	NewOutput() Source
	Input() Sink
	Release(output Source)
	SetDTMFClamp(clamp bool)
	Report() string
}

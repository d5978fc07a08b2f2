package component

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Splitter copies every frame written to its input to each started output.
type Splitter struct {
	id        string
	mediaType media.MediaType
	input     *Input

	mu      sync.RWMutex
	outputs []*Output
	next    int

	dtmfClamp atomic.Bool
	dropped   atomic.Int64
}

// NewSplitter creates a splitter. Its input accepts any format.
func NewSplitter(id string, mediaType media.MediaType) *Splitter {
	s := &Splitter{id: id, mediaType: mediaType}
	s.input = NewInput(id+"-in", nil, s.fanout)
	return s
}

// Input returns the single input sink.
func (s *Splitter) Input() media.Sink {
	return s.input
}

// NewOutput leases a new output. It receives frames once started.
func (s *Splitter) NewOutput() media.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	out := NewOutput(fmt.Sprintf("%s-out-%d", s.id, s.next), nil)
	s.outputs = append(s.outputs, out)
	return out
}

// Release returns a leased output. Unknown outputs are ignored.
func (s *Splitter) Release(output media.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, out := range s.outputs {
		if media.Source(out) == output {
			out.Stop()
			out.Bind(nil)
			s.outputs = append(s.outputs[:i], s.outputs[i+1:]...)
			return
		}
	}
}

// SetDTMFClamp drops telephone-event frames at the input when enabled.
func (s *Splitter) SetDTMFClamp(clamp bool) {
	s.dtmfClamp.Store(clamp)
}

// Outputs returns the number of leased outputs.
func (s *Splitter) Outputs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outputs)
}

func (s *Splitter) fanout(f media.Frame) error {
	if s.dtmfClamp.Load() && f.Format.IsDTMF() {
		s.dropped.Add(1)
		if ev, err := media.ParseDTMFEvent(f.Payload); err == nil && ev.EndOfEvent {
			slog.Debug("[Splitter] Clamped telephone event", "splitter_id", s.id, "event", ev.String())
		}
		return nil
	}

	s.mu.RLock()
	outputs := append([]*Output(nil), s.outputs...)
	s.mu.RUnlock()

	var firstErr error
	for _, out := range outputs {
		if !out.IsStarted() {
			continue
		}
		if err := out.Emit(f.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Report describes the splitter and its outputs.
func (s *Splitter) Report() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "<splitter id=%s media=%s in=[%s] dtmf_dropped=%d>\n",
		s.id, s.mediaType, s.input.Received(), s.dropped.Load())
	for _, out := range s.outputs {
		fmt.Fprintf(&b, "  <output id=%s started=%t tx=[%s]/>\n", out.ID(), out.IsStarted(), out.Transmitted())
	}
	b.WriteString("</splitter>")
	return b.String()
}

var _ media.Splitter = (*Splitter)(nil)

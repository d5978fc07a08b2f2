package component

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sebas/mediaserver/internal/mediaserver/dsp"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

// DefaultInputBufferFrames bounds the frames queued per mixer input.
// Older frames are dropped when a producer outruns the mix clock.
const DefaultInputBufferFrames = 5

type mixerInput struct {
	*Input

	mu    sync.Mutex
	queue []media.Frame
}

func (in *mixerInput) push(f media.Frame) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) >= DefaultInputBufferFrames {
		in.queue = in.queue[1:]
	}
	in.queue = append(in.queue, f.Clone())
	return nil
}

func (in *mixerInput) pop() (media.Frame, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.queue) == 0 {
		return media.Frame{}, false
	}
	f := in.queue[0]
	in.queue = in.queue[1:]
	return f, true
}

// Mixer sums one frame per input each media quantum and emits the result.
// Audio is mixed in the linear format; video forwards the newest frame.
type Mixer struct {
	id        string
	mediaType media.MediaType
	sched     *scheduler.Scheduler
	dsp       *dsp.Factory
	output    *Output

	mu     sync.Mutex
	inputs []*mixerInput
	next   int
	gain   float64

	task    *scheduler.Task
	started atomic.Bool
	mixes   atomic.Int64

	seq uint16
	ts  uint32
}

// NewMixer creates a stopped mixer ticking on the scheduler's media queue.
func NewMixer(id string, mediaType media.MediaType, sched *scheduler.Scheduler, factory *dsp.Factory) *Mixer {
	var supported media.Formats
	if mediaType == media.Audio {
		supported = factory.Reachable(media.Formats{media.Linear})
	}
	m := &Mixer{
		id:        id,
		mediaType: mediaType,
		sched:     sched,
		dsp:       factory,
		output:    NewOutput(id+"-out", supported),
		gain:      1,
	}
	m.task = scheduler.NewTask(id, m.tick)
	return m
}

// NewInput leases a new input.
func (m *Mixer) NewInput() media.Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	in := &mixerInput{}
	in.Input = NewInput(fmt.Sprintf("%s-in-%d", m.id, m.next), nil, in.push)
	m.inputs = append(m.inputs, in)
	return in
}

// Release returns a leased input. Unknown inputs are ignored.
func (m *Mixer) Release(input media.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, in := range m.inputs {
		if media.Sink(in) == input {
			in.Stop()
			m.inputs = append(m.inputs[:i], m.inputs[i+1:]...)
			return
		}
	}
}

// Output returns the mixed output source.
func (m *Mixer) Output() media.Source {
	return m.output
}

// Inputs returns the number of leased inputs.
func (m *Mixer) Inputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// SetGain sets the output gain in decibels.
func (m *Mixer) SetGain(db float64) {
	m.mu.Lock()
	m.gain = math.Pow(10, db/20)
	m.mu.Unlock()
}

// Start begins mixing on every media quantum.
func (m *Mixer) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.task.Rearm()
	m.sched.Submit(m.task)
}

// Stop halts mixing. Queued input frames are kept.
func (m *Mixer) Stop() {
	if !m.started.CompareAndSwap(true, false) {
		return
	}
	m.task.Cancel()
}

// IsStarted reports whether the mixer is running.
func (m *Mixer) IsStarted() bool {
	return m.started.Load()
}

func (m *Mixer) tick() {
	if !m.started.Load() {
		return
	}
	m.Mix()
	m.sched.Submit(m.task)
}

// Mix performs one mixing cycle and reports whether a frame was emitted.
func (m *Mixer) Mix() bool {
	m.mu.Lock()
	inputs := append([]*mixerInput(nil), m.inputs...)
	gain := m.gain
	m.mu.Unlock()

	var frames []media.Frame
	for _, in := range inputs {
		if f, ok := in.pop(); ok {
			frames = append(frames, f)
		}
	}
	if len(frames) == 0 {
		return false
	}

	var out media.Frame
	var ok bool
	if m.mediaType == media.Video {
		out, ok = frames[len(frames)-1], true
	} else {
		out, ok = m.mixAudio(frames, gain)
	}
	if !ok {
		return false
	}

	m.mu.Lock()
	m.seq++
	out.Sequence = m.seq
	m.ts += uint32(m.sched.MediaQuantumSamples())
	out.Timestamp = m.ts
	m.mu.Unlock()

	m.mixes.Add(1)
	if err := m.output.Emit(out); err != nil {
		slog.Debug("[Mixer] Emit failed", "mixer_id", m.id, "error", err)
	}
	return true
}

func (m *Mixer) mixAudio(frames []media.Frame, gain float64) (media.Frame, bool) {
	var sum []int32
	for _, f := range frames {
		if f.Format.IsDTMF() {
			continue
		}
		lin, err := m.dsp.Transcode(f, media.Linear)
		if err != nil {
			slog.Debug("[Mixer] Dropping frame", "mixer_id", m.id, "format", f.Format.String(), "error", err)
			continue
		}
		samples := len(lin.Payload) / 2
		for len(sum) < samples {
			sum = append(sum, 0)
		}
		for i := 0; i < samples; i++ {
			sum[i] += int32(int16(binary.LittleEndian.Uint16(lin.Payload[2*i:])))
		}
	}
	if sum == nil {
		return media.Frame{}, false
	}

	payload := make([]byte, 2*len(sum))
	for i, s := range sum {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(saturate(float64(s)*gain)))
	}
	mixed := media.Frame{
		Payload:  payload,
		Format:   media.Linear,
		Duration: m.sched.MediaQuantum(),
	}

	target := media.Linear
	for _, f := range m.output.Formats() {
		if !f.IsDTMF() {
			target = f
			break
		}
	}
	encoded, err := m.dsp.Transcode(mixed, target)
	if err != nil {
		slog.Debug("[Mixer] Encode failed", "mixer_id", m.id, "format", target.String(), "error", err)
		return media.Frame{}, false
	}
	return encoded, true
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Report describes the mixer and its inputs.
func (m *Mixer) Report() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "<mixer id=%s media=%s started=%t mixes=%d out=[%s]>\n",
		m.id, m.mediaType, m.started.Load(), m.mixes.Load(), m.output.Transmitted())
	for _, in := range m.inputs {
		fmt.Fprintf(&b, "  <input id=%s started=%t rx=[%s]/>\n", in.ID(), in.IsStarted(), in.Received())
	}
	b.WriteString("</mixer>")
	return b.String()
}

var _ media.Mixer = (*Mixer)(nil)

package component

import (
	"github.com/sebas/mediaserver/internal/mediaserver/dsp"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/scheduler"
)

// Factory builds mixers and splitters sharing one scheduler and DSP factory.
type Factory struct {
	Scheduler *scheduler.Scheduler
	DSP       *dsp.Factory
}

// NewFactory returns a component factory.
func NewFactory(sched *scheduler.Scheduler, d *dsp.Factory) *Factory {
	return &Factory{Scheduler: sched, DSP: d}
}

func (f *Factory) NewMixer(id string, mediaType media.MediaType) *Mixer {
	return NewMixer(id, mediaType, f.Scheduler, f.DSP)
}

func (f *Factory) NewSplitter(id string, mediaType media.MediaType) *Splitter {
	return NewSplitter(id, mediaType)
}

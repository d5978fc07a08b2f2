// Package dsp provides format conversion between the linear intermediate
// format and the G.711 encodings carried over RTP.
package dsp

import (
	"fmt"

	"github.com/zaf/g711"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Transcoder converts payloads from one format to another.
type Transcoder struct {
	From    media.Format
	To      media.Format
	process func([]byte) []byte
}

// Process converts one payload.
func (t Transcoder) Process(payload []byte) []byte {
	return t.process(payload)
}

// Factory looks up transcoders between known formats.
type Factory struct {
	transcoders []Transcoder
}

// NewFactory returns a factory with the G.711 transcoders registered.
// Linear payloads are 16-bit little-endian PCM.
func NewFactory() *Factory {
	f := &Factory{}
	f.Register(media.Linear, media.PCMU, g711.EncodeUlaw)
	f.Register(media.PCMU, media.Linear, g711.DecodeUlaw)
	f.Register(media.Linear, media.PCMA, g711.EncodeAlaw)
	f.Register(media.PCMA, media.Linear, g711.DecodeAlaw)
	f.Register(media.PCMU, media.PCMA, g711.Ulaw2Alaw)
	f.Register(media.PCMA, media.PCMU, g711.Alaw2Ulaw)
	return f
}

// Register adds a transcoder.
func (f *Factory) Register(from, to media.Format, process func([]byte) []byte) {
	f.transcoders = append(f.transcoders, Transcoder{From: from, To: to, process: process})
}

// Find returns the transcoder converting from -> to.
func (f *Factory) Find(from, to media.Format) (Transcoder, bool) {
	for _, t := range f.transcoders {
		if t.From.Matches(from) && t.To.Matches(to) {
			return t, true
		}
	}
	return Transcoder{}, false
}

// CanTranscode reports whether frames in from can be delivered as to,
// either unchanged or through a transcoder.
func (f *Factory) CanTranscode(from, to media.Format) bool {
	if from.Matches(to) {
		return true
	}
	_, ok := f.Find(from, to)
	return ok
}

// Transcode converts a frame to the target format.
func (f *Factory) Transcode(frame media.Frame, to media.Format) (media.Frame, error) {
	if frame.Format.Matches(to) {
		return frame, nil
	}
	t, ok := f.Find(frame.Format, to)
	if !ok {
		return media.Frame{}, fmt.Errorf("%w: %s -> %s", media.ErrFormatNotSupported, frame.Format, to)
	}
	out := frame
	out.Payload = t.Process(frame.Payload)
	out.Format = to
	return out, nil
}

// Filter returns the offered formats usable against the capability set:
// each offered format must equal a capability or be convertible both to
// and from one. Telephone events pass through when offered.
func (f *Factory) Filter(offered, capabilities media.Formats) media.Formats {
	var out media.Formats
	for _, o := range offered {
		if o.IsDTMF() {
			out = append(out, o)
			continue
		}
		for _, c := range capabilities {
			if f.CanTranscode(o, c) && f.CanTranscode(c, o) {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// Reachable returns the formats that can be produced from any of base.
func (f *Factory) Reachable(base media.Formats) media.Formats {
	out := append(media.Formats(nil), base...)
	for _, b := range base {
		for _, t := range f.transcoders {
			if t.From.Matches(b) && !out.Contains(t.To) {
				out = append(out, t.To)
			}
		}
	}
	return out
}

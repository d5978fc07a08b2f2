package media

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrFormatNotSupported is returned by SetFormats when none of the requested
// formats can be produced or consumed by the component.
var ErrFormatNotSupported = errors.New("format not supported")

// MediaType identifies the kind of media carried by a channel.
type MediaType int

const (
	Audio MediaType = iota
	Video
)

// MediaTypes lists every media type a connection carries, in channel order.
var MediaTypes = []MediaType{Audio, Video}

func (m MediaType) String() string {
	switch m {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("media(%d)", int(m))
	}
}

// ParseMediaType parses "audio" or "video" (case-insensitive).
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio", "":
		return Audio, nil
	case "video":
		return Video, nil
	default:
		return 0, fmt.Errorf("unknown media type: %q", s)
	}
}

// Format describes an encoding of media frames.
type Format struct {
	Name       string // Encoding name as used in rtpmap (e.g. "PCMU", "linear")
	ClockRate  uint32 // Clock rate in Hz, 0 for formats without one
	Channels   int    // Number of channels (1 for mono)
	SampleSize int    // Bits per sample, linear formats only
}

// Pre-defined formats used inside the server.
var (
	// Linear is the intermediate format the mixers work in.
	Linear = Format{Name: "linear", ClockRate: 8000, Channels: 1, SampleSize: 16}

	// PCMU is G.711 µ-law
	PCMU = Format{Name: "PCMU", ClockRate: 8000, Channels: 1}

	// PCMA is G.711 A-law
	PCMA = Format{Name: "PCMA", ClockRate: 8000, Channels: 1}

	// TelephoneEvent carries RFC 4733 DTMF events
	TelephoneEvent = Format{Name: "telephone-event", ClockRate: 8000, Channels: 1}

	// VideoUnknown is the intermediate video format; frames pass through untouched.
	VideoUnknown = Format{Name: "unknown"}
)

func (f Format) String() string {
	if f.ClockRate == 0 {
		return f.Name
	}
	if f.Channels > 1 {
		return fmt.Sprintf("%s/%d/%d", f.Name, f.ClockRate, f.Channels)
	}
	return fmt.Sprintf("%s/%d", f.Name, f.ClockRate)
}

// Matches reports whether two formats describe the same encoding.
// Names compare case-insensitively; a zero clock rate or channel count
// on either side matches anything.
func (f Format) Matches(other Format) bool {
	if !strings.EqualFold(f.Name, other.Name) {
		return false
	}
	if f.ClockRate != 0 && other.ClockRate != 0 && f.ClockRate != other.ClockRate {
		return false
	}
	fc, oc := f.Channels, other.Channels
	if fc == 0 {
		fc = 1
	}
	if oc == 0 {
		oc = 1
	}
	return fc == oc
}

// IsDTMF reports whether the format carries telephone events.
func (f Format) IsDTMF() bool {
	return strings.EqualFold(f.Name, TelephoneEvent.Name)
}

// Formats is an ordered list of formats, most preferred first.
type Formats []Format

// Contains reports whether fs has a format matching f.
func (fs Formats) Contains(f Format) bool {
	for _, candidate := range fs {
		if candidate.Matches(f) {
			return true
		}
	}
	return false
}

// Intersect returns the formats of fs that also appear in other,
// keeping the order of fs.
func (fs Formats) Intersect(other Formats) Formats {
	var out Formats
	for _, f := range fs {
		if other.Contains(f) {
			out = append(out, f)
		}
	}
	return out
}

// IsEmpty reports whether the list holds no formats.
func (fs Formats) IsEmpty() bool {
	return len(fs) == 0
}

func (fs Formats) String() string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Frame is one unit of media moving through pipes.
type Frame struct {
	Payload   []byte
	Format    Format
	Sequence  uint16
	Timestamp uint32
	Duration  time.Duration
	Marker    bool
}

// Clone returns a copy of the frame with its own payload buffer.
func (f Frame) Clone() Frame {
	c := f
	c.Payload = append([]byte(nil), f.Payload...)
	return c
}

// Package sdp builds and parses the session descriptors exchanged by RTP
// connections. Only the parts the connection core needs are modelled: the
// connection address and, per media line, the port and the codec list.
package sdp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/sdp/v3"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Codec binds an RTP payload type to a format.
type Codec struct {
	PayloadType uint8
	Format      media.Format
}

func (c Codec) rtpmap() string {
	name := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Format.Name, c.Format.ClockRate)
	if c.Format.Channels > 1 {
		name += "/" + strconv.Itoa(c.Format.Channels)
	}
	return name
}

// Static payload types (RFC 3551) plus the conventional dynamic ones.
var staticCodecs = map[uint8]media.Format{
	0:  media.PCMU,
	8:  media.PCMA,
	18: {Name: "G729", ClockRate: 8000, Channels: 1},
	9:  {Name: "G722", ClockRate: 8000, Channels: 1},
	34: {Name: "H263", ClockRate: 90000},
}

const (
	telephoneEventPT = 101
	firstDynamicPT   = 96
)

// Codecs assigns payload types to formats: static types where defined,
// 101 for telephone events, and ascending dynamic types for the rest.
func Codecs(formats media.Formats) []Codec {
	out := make([]Codec, 0, len(formats))
	next := uint8(firstDynamicPT)
	for _, f := range formats {
		if f.IsDTMF() {
			out = append(out, Codec{PayloadType: telephoneEventPT, Format: f})
			continue
		}
		if pt, ok := StaticPayloadType(f); ok {
			out = append(out, Codec{PayloadType: pt, Format: f})
			continue
		}
		if next == telephoneEventPT {
			next++
		}
		out = append(out, Codec{PayloadType: next, Format: f})
		next++
	}
	return out
}

// StaticPayloadType returns the static payload type for a format.
func StaticPayloadType(f media.Format) (uint8, bool) {
	for pt, sf := range staticCodecs {
		if sf.Matches(f) {
			return pt, true
		}
	}
	return 0, false
}

// MediaDescription is one m= line.
type MediaDescription struct {
	Type      media.MediaType
	Port      int
	Codecs    []Codec
	Direction string // sendrecv, sendonly, recvonly or inactive
}

// Formats returns the formats of the media line in offer order.
func (m MediaDescription) Formats() media.Formats {
	out := make(media.Formats, 0, len(m.Codecs))
	for _, c := range m.Codecs {
		out = append(out, c.Format)
	}
	return out
}

// PayloadType returns the payload type assigned to a format.
func (m MediaDescription) PayloadType(f media.Format) (uint8, bool) {
	for _, c := range m.Codecs {
		if c.Format.Matches(f) {
			return c.PayloadType, true
		}
	}
	return 0, false
}

// Descriptor is a parsed or locally built session description.
type Descriptor struct {
	SessionID uint64
	Version   uint64
	Address   string
	Media     []MediaDescription
}

// NewDescriptor returns an empty descriptor with a fresh session id.
func NewDescriptor(address string) *Descriptor {
	id := uuid.New()
	return &Descriptor{
		SessionID: binary.BigEndian.Uint64(id[:8]) >> 1,
		Version:   1,
		Address:   address,
	}
}

// Get returns the media line for a media type.
func (d *Descriptor) Get(mt media.MediaType) (MediaDescription, bool) {
	for _, m := range d.Media {
		if m.Type == mt {
			return m, true
		}
	}
	return MediaDescription{}, false
}

// Marshal renders the descriptor as SDP text.
func (d *Descriptor) Marshal() ([]byte, error) {
	session := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "mediaserver",
			SessionID:      d.SessionID,
			SessionVersion: d.Version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: d.Address,
		},
		SessionName: "Media Server Session",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: d.Address},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, m := range d.Media {
		formats := make([]string, 0, len(m.Codecs))
		for _, c := range m.Codecs {
			formats = append(formats, strconv.Itoa(int(c.PayloadType)))
		}
		session.MediaDescriptions = append(session.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   m.Type.String(),
				Port:    sdp.RangedPort{Value: m.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: formats,
			},
			Attributes: attributes(m),
		})
	}

	raw, err := session.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal sdp: %w", err)
	}
	return raw, nil
}

// attributes returns rtpmap, fmtp, ptime and direction attributes.
func attributes(m MediaDescription) []sdp.Attribute {
	attrs := []sdp.Attribute{}
	for _, c := range m.Codecs {
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: c.rtpmap()})
	}
	for _, c := range m.Codecs {
		if c.Format.IsDTMF() {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", c.PayloadType)})
		}
	}
	if m.Type == media.Audio {
		attrs = append(attrs, sdp.Attribute{Key: "ptime", Value: "20"})
	}
	direction := m.Direction
	if direction == "" {
		direction = "sendrecv"
	}
	attrs = append(attrs, sdp.Attribute{Key: direction})
	return attrs
}

// Parse reads a remote session description. Media lines of unknown type
// and payload types without a known mapping are skipped.
func Parse(raw []byte) (*Descriptor, error) {
	var session sdp.SessionDescription
	if err := session.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	d := &Descriptor{
		SessionID: session.Origin.SessionID,
		Version:   session.Origin.SessionVersion,
	}
	if ci := session.ConnectionInformation; ci != nil && ci.Address != nil {
		d.Address = ci.Address.Address
	}

	for _, md := range session.MediaDescriptions {
		mt, err := media.ParseMediaType(md.MediaName.Media)
		if err != nil {
			slog.Debug("[SDP] Skipping media line", "media", md.MediaName.Media)
			continue
		}
		if d.Address == "" && md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			d.Address = md.ConnectionInformation.Address.Address
		}

		m := MediaDescription{Type: mt, Port: md.MediaName.Port.Value, Direction: "sendrecv"}
		rtpmaps := map[uint8]media.Format{}
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				if pt, f, ok := parseRtpmap(attr.Value); ok {
					rtpmaps[pt] = f
				}
			case "sendrecv", "sendonly", "recvonly", "inactive":
				m.Direction = attr.Key
			}
		}
		for _, token := range md.MediaName.Formats {
			n, err := strconv.ParseUint(token, 10, 8)
			if err != nil {
				continue
			}
			pt := uint8(n)
			if f, ok := rtpmaps[pt]; ok {
				m.Codecs = append(m.Codecs, Codec{PayloadType: pt, Format: f})
			} else if f, ok := staticCodecs[pt]; ok {
				m.Codecs = append(m.Codecs, Codec{PayloadType: pt, Format: f})
			}
		}
		d.Media = append(d.Media, m)
	}

	if d.Address == "" {
		return nil, fmt.Errorf("parse sdp: no connection address")
	}
	return d, nil
}

// parseRtpmap parses "<pt> <name>/<rate>[/<channels>]".
func parseRtpmap(value string) (uint8, media.Format, bool) {
	ptStr, encoding, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return 0, media.Format{}, false
	}
	n, err := strconv.ParseUint(ptStr, 10, 8)
	if err != nil {
		return 0, media.Format{}, false
	}
	parts := strings.Split(encoding, "/")
	f := media.Format{Name: parts[0], Channels: 1}
	if len(parts) > 1 {
		rate, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, media.Format{}, false
		}
		f.ClockRate = uint32(rate)
	}
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil {
			f.Channels = ch
		}
	}
	// Keep the canonical spelling of well-known formats.
	for _, known := range []media.Format{media.PCMU, media.PCMA, media.TelephoneEvent} {
		if known.Matches(f) {
			f = known
		}
	}
	return uint8(n), f, true
}

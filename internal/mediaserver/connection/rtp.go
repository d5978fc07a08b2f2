package connection

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/rtp"
	"github.com/sebas/mediaserver/internal/mediaserver/sdp"
)

// rtpVariant carries a connection's media over UDP, one RTP channel per
// media type, negotiated through session descriptors.
type rtpVariant struct {
	conn     *Connection
	channels []*rtp.Channel

	// guarded by conn.mu
	local  *sdp.Descriptor
	remote *sdp.Descriptor
}

func newRTPVariant(c *Connection) *rtpVariant {
	v := &rtpVariant{conn: c}
	for _, mt := range media.MediaTypes {
		ch := c.pool.rtp.NewChannel(fmt.Sprintf("%s-%s-%s", c.pool.name, c.id, mt), mt)
		ch.OnFailure(c.fail)
		c.channels[mt].connectTransport(ch)
		v.channels = append(v.channels, ch)
	}
	return v
}

// onCreated binds a port per media type and builds the local offer.
func (v *rtpVariant) onCreated() error {
	for _, ch := range v.channels {
		if err := ch.Bind(); err != nil {
			v.closeChannels()
			return fmt.Errorf("%w: %w", ErrResourceUnavailable, err)
		}
	}

	d := sdp.NewDescriptor(v.conn.pool.rtp.Advertise())
	for _, mt := range media.MediaTypes {
		formats := v.offer(mt)
		if formats.IsEmpty() {
			continue
		}
		d.Media = append(d.Media, sdp.MediaDescription{
			Type:   mt,
			Port:   v.channels[mt].LocalPort(),
			Codecs: sdp.Codecs(formats),
		})
	}
	v.local = d
	return nil
}

func (v *rtpVariant) onOpened() error { return nil }

func (v *rtpVariant) onClosed() {
	v.closeChannels()
	v.local, v.remote = nil, nil
}

func (v *rtpVariant) onFailed() {
	v.closeChannels()
}

func (v *rtpVariant) closeChannels() {
	for _, ch := range v.channels {
		ch.Close()
		_ = ch.SetCodecs(nil)
	}
}

// offer lists the network formats the endpoint can produce: everything
// reachable from its capabilities except the intermediate formats.
// Audio always offers telephone events.
func (v *rtpVariant) offer(mt media.MediaType) media.Formats {
	p := v.conn.pool
	var out media.Formats
	for _, f := range p.dsp.Reachable(p.capabilities[mt]) {
		if f.Matches(media.Linear) || f.Matches(media.VideoUnknown) {
			continue
		}
		out = append(out, f)
	}
	if mt == media.Audio {
		out = append(out, media.TelephoneEvent)
	}
	return out
}

// accept returns the offered codecs usable on this endpoint, keeping the
// peer's payload type numbers.
func (v *rtpVariant) accept(mt media.MediaType, offered []sdp.Codec) []sdp.Codec {
	p := v.conn.pool
	caps := p.capabilities[mt]

	var formats media.Formats
	for _, c := range offered {
		formats = append(formats, c.Format)
	}
	var usable media.Formats
	if mt == media.Video && caps.Contains(media.VideoUnknown) {
		usable = formats
	} else {
		usable = p.dsp.Filter(formats, caps)
	}

	var out []sdp.Codec
	for _, c := range offered {
		if usable.Contains(c.Format) {
			out = append(out, c)
		}
	}
	return out
}

func hasMedia(codecs []sdp.Codec) bool {
	for _, c := range codecs {
		if !c.Format.IsDTMF() {
			return true
		}
	}
	return false
}

// SetRemoteDescriptor applies the peer's session description: it selects
// the usable codecs, points each RTP channel at the peer and builds the
// answer. A HALF_OPEN connection becomes OPEN.
func (c *Connection) SetRemoteDescriptor(raw []byte) error {
	if c.rtp == nil {
		return fmt.Errorf("%w: connection %s has no rtp transport", ErrIllegalState, c.id)
	}
	c.mu.Lock()
	n, err := c.setRemoteLocked(raw)
	c.mu.Unlock()
	n.fire()
	return err
}

func (c *Connection) setRemoteLocked(raw []byte) (*notice, error) {
	state := c.currentState()
	if state == StateNull {
		return nil, illegalState("set remote descriptor", state)
	}

	remote, err := sdp.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecsNotNegotiated, err)
	}
	offered, ok := remote.Get(media.Audio)
	if !ok {
		return nil, fmt.Errorf("%w: no audio media", ErrCodecsNotNegotiated)
	}
	audio := c.rtp.accept(media.Audio, offered.Codecs)
	if !hasMedia(audio) {
		return nil, fmt.Errorf("%w: audio offered %s", ErrCodecsNotNegotiated, offered.Formats())
	}

	answer := sdp.NewDescriptor(c.pool.rtp.Advertise())
	answer.SessionID = c.rtp.local.SessionID
	answer.Version = c.rtp.local.Version + 1

	var errs []error
	seen := map[media.MediaType]bool{}
	for _, md := range remote.Media {
		var codecs []sdp.Codec
		switch {
		case seen[md.Type] || md.Port == 0:
		case md.Type == media.Audio:
			codecs = audio
		default:
			codecs = c.rtp.accept(md.Type, md.Codecs)
		}
		seen[md.Type] = true
		if !hasMedia(codecs) {
			rejected := sdp.MediaDescription{Type: md.Type, Direction: "inactive"}
			if len(md.Codecs) > 0 {
				rejected.Codecs = md.Codecs[:1]
			}
			answer.Media = append(answer.Media, rejected)
			continue
		}

		ch := c.rtp.channels[md.Type]
		if err := ch.SetCodecs(codecs); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ch.SetPeer(remote.Address, md.Port); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.channels[md.Type].renegotiate(); err != nil {
			errs = append(errs, err)
		}
		answer.Media = append(answer.Media, sdp.MediaDescription{
			Type:   md.Type,
			Port:   ch.LocalPort(),
			Codecs: codecs,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodecsNotNegotiated, err)
	}

	c.rtp.remote = remote
	c.rtp.local = answer
	slog.Debug("[Connection] Remote descriptor applied",
		"connection_id", c.id,
		"remote", remote.Address,
		"audio", formatsOf(audio).String())

	if state == StateHalfOpen {
		return c.joinLocked()
	}
	return nil, nil
}

func formatsOf(codecs []sdp.Codec) media.Formats {
	out := make(media.Formats, 0, len(codecs))
	for _, cd := range codecs {
		out = append(out, cd.Format)
	}
	return out
}

// Descriptor returns the local session description: the offer after Bind,
// the answer once a remote descriptor has been applied.
func (c *Connection) Descriptor() ([]byte, error) {
	if c.rtp == nil {
		return nil, fmt.Errorf("%w: connection %s has no rtp transport", ErrIllegalState, c.id)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtp.local == nil {
		return nil, illegalState("descriptor", c.currentState())
	}
	return c.rtp.local.Marshal()
}

// RTPChannel returns the transport of a media type, nil for local connections.
func (c *Connection) RTPChannel(mt media.MediaType) *rtp.Channel {
	if c.rtp == nil || int(mt) < 0 || int(mt) >= len(c.rtp.channels) {
		return nil
	}
	return c.rtp.channels[mt]
}

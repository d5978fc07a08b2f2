package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostbyte73/core"
	pionrtp "github.com/pion/rtp"
	"github.com/sourcegraph/conc"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
	"github.com/sebas/mediaserver/internal/mediaserver/sdp"
)

const mtu = 1500

// FailureHandler is invoked, on its own goroutine, when the transport fails
// outside a caller's control (read or write errors on an open socket).
type FailureHandler func(err error)

// Channel carries one media type of one connection over UDP.
// Input() packetizes frames toward the peer; Output() emits received frames.
type Channel struct {
	id        string
	mediaType media.MediaType
	pool      *PortPool
	bindAddr  string

	mu       sync.RWMutex
	conn     *net.UDPConn
	rtpPort  int
	remote   *net.UDPAddr
	codecs   []sdp.Codec
	tracker  SequenceTracker
	onFailed FailureHandler

	input  *component.Input
	output *component.Output

	ssrc      uint32
	seq       atomic.Uint32
	timestamp atomic.Uint32

	closed core.Fuse
	failed core.Fuse
	wg     conc.WaitGroup

	dropped atomic.Int64
}

func newChannel(id string, mt media.MediaType, pool *PortPool, bindAddr string) *Channel {
	c := &Channel{
		id:        id,
		mediaType: mt,
		pool:      pool,
		bindAddr:  bindAddr,
		ssrc:      randomUint32(),
	}
	c.seq.Store(uint32(randomUint16()))
	c.timestamp.Store(randomUint32())
	c.input = component.NewInput(id+"-rtp-in", nil, c.send)
	c.output = component.NewOutput(id+"-rtp-out", nil)
	return c
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Input is the sink whose frames are sent to the peer.
func (c *Channel) Input() media.Sink { return c.input }

// Output is the source emitting frames received from the peer.
func (c *Channel) Output() media.Source { return c.output }

// OnFailure registers the transport failure handler.
func (c *Channel) OnFailure(h FailureHandler) {
	c.mu.Lock()
	c.onFailed = h
	c.mu.Unlock()
}

// Bind allocates a local port and starts receiving.
func (c *Channel) Bind() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	port, _, err := c.pool.Allocate()
	if err != nil {
		return err
	}
	addr := &net.UDPAddr{IP: net.ParseIP(c.bindAddr), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		c.pool.Release(port)
		return fmt.Errorf("bind rtp port %d: %w", port, err)
	}
	c.conn = conn
	c.rtpPort = port
	c.closed = core.Fuse{}
	c.failed = core.Fuse{}

	c.wg.Go(func() { c.readLoop(conn) })

	slog.Debug("[RTP] Channel bound",
		"channel_id", c.id,
		"media", c.mediaType.String(),
		"local_port", port)
	return nil
}

// LocalPort returns the bound RTP port, 0 when unbound.
func (c *Channel) LocalPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtpPort
}

// IsBound reports whether a socket is open.
func (c *Channel) IsBound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SetPeer sets the remote address frames are sent to.
func (c *Channel) SetPeer(address string, port int) error {
	ip := net.ParseIP(address)
	if ip == nil {
		addrs, err := net.LookupIP(address)
		if err != nil || len(addrs) == 0 {
			return fmt.Errorf("invalid peer address %q", address)
		}
		ip = addrs[0]
	}
	c.mu.Lock()
	c.remote = &net.UDPAddr{IP: ip, Port: port}
	c.mu.Unlock()
	return nil
}

// Peer returns the remote address, nil if unset.
func (c *Channel) Peer() *net.UDPAddr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

// SetCodecs binds the negotiated payload type map.
func (c *Channel) SetCodecs(codecs []sdp.Codec) error {
	formats := make(media.Formats, 0, len(codecs))
	for _, cd := range codecs {
		formats = append(formats, cd.Format)
	}
	if err := c.input.SetFormats(formats); err != nil {
		return err
	}
	if err := c.output.SetFormats(formats); err != nil {
		return err
	}
	c.mu.Lock()
	c.codecs = append([]sdp.Codec(nil), codecs...)
	c.mu.Unlock()
	return nil
}

// Codecs returns the negotiated payload type map.
func (c *Channel) Codecs() []sdp.Codec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]sdp.Codec(nil), c.codecs...)
}

// Loss returns received and lost packet counts.
func (c *Channel) Loss() (received, lost uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracker.Stats()
}

// Close stops the read loop, closes the socket and releases the port.
// The channel can be bound again.
func (c *Channel) Close() {
	c.mu.Lock()
	conn, port := c.conn, c.rtpPort
	c.conn = nil
	c.rtpPort = 0
	c.remote = nil
	c.codecs = nil
	c.tracker.Reset()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.closed.Break()
	_ = conn.Close()
	c.wg.Wait()
	c.pool.Release(port)
	c.input.Stop()
	c.output.Stop()

	slog.Debug("[RTP] Channel closed", "channel_id", c.id, "local_port", port)
}

func (c *Channel) fail(err error) {
	if c.closed.IsBroken() {
		return
	}
	c.failed.Once(func() {
		c.mu.RLock()
		h := c.onFailed
		c.mu.RUnlock()

		slog.Warn("[RTP] Transport failure", "channel_id", c.id, "error", err)
		if h != nil {
			go h(err)
		}
	})
}

func (c *Channel) readLoop(conn *net.UDPConn) {
	buf := make([]byte, mtu)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if c.closed.IsBroken() {
				return
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.receive(buf[:n])
	}
}

func (c *Channel) receive(raw []byte) {
	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		c.dropped.Add(1)
		return
	}

	c.mu.Lock()
	c.tracker.Update(pkt.SequenceNumber)
	format, ok := c.formatFor(pkt.PayloadType)
	c.mu.Unlock()
	if !ok {
		c.dropped.Add(1)
		return
	}

	frame := media.Frame{
		Payload:   append([]byte(nil), pkt.Payload...),
		Format:    format,
		Sequence:  pkt.SequenceNumber,
		Timestamp: pkt.Timestamp,
		Marker:    pkt.Marker,
		Duration:  frameDuration(format, len(pkt.Payload)),
	}
	if err := c.output.Emit(frame); err != nil {
		slog.Debug("[RTP] Dropping received frame", "channel_id", c.id, "error", err)
	}
}

func (c *Channel) send(f media.Frame) error {
	c.mu.RLock()
	conn, remote := c.conn, c.remote
	pt, ok := c.payloadTypeFor(f.Format)
	c.mu.RUnlock()

	if conn == nil || remote == nil {
		return nil
	}
	if !ok {
		c.dropped.Add(1)
		return nil
	}

	samples := uint32(f.Duration * time.Duration(clockRate(f.Format)) / time.Second)
	if samples == 0 {
		samples = uint32(len(f.Payload))
	}
	pkt := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			PayloadType:    pt,
			SequenceNumber: uint16(c.seq.Add(1)),
			Timestamp:      c.timestamp.Add(samples),
			SSRC:           c.ssrc,
			Marker:         f.Marker,
		},
		Payload: f.Payload,
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	if _, err := conn.WriteToUDP(raw, remote); err != nil {
		if c.closed.IsBroken() {
			return nil
		}
		c.fail(fmt.Errorf("write: %w", err))
		return err
	}
	return nil
}

func (c *Channel) formatFor(pt uint8) (media.Format, bool) {
	for _, cd := range c.codecs {
		if cd.PayloadType == pt {
			return cd.Format, true
		}
	}
	return media.Format{}, false
}

func (c *Channel) payloadTypeFor(f media.Format) (uint8, bool) {
	for _, cd := range c.codecs {
		if cd.Format.Matches(f) {
			return cd.PayloadType, true
		}
	}
	return 0, false
}

func clockRate(f media.Format) uint32 {
	if f.ClockRate == 0 {
		return 90000
	}
	return f.ClockRate
}

// frameDuration derives the duration of a G.711 payload (one byte per
// sample); other formats are assumed to carry one 20ms frame.
func frameDuration(f media.Format, size int) time.Duration {
	if f.Matches(media.PCMU) || f.Matches(media.PCMA) {
		return time.Duration(size) * time.Second / time.Duration(f.ClockRate)
	}
	return 20 * time.Millisecond
}

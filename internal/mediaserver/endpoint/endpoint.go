// Package endpoint provides the named endpoints connections attach to.
// Each endpoint owns one connection pool whose pairing rule is chosen by
// the endpoint kind.
package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sebas/mediaserver/internal/mediaserver/component"
	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Kind selects how an endpoint's connections are bridged.
type Kind string

const (
	// KindConference mixes every CONFERENCE connection with each other and
	// with the endpoint's own announcement source and recording sink.
	KindConference Kind = "conference"
	// KindBridge relays local connections to RTP connections.
	KindBridge Kind = "bridge"
	// KindRelay relays RTP connections to each other.
	KindRelay Kind = "relay"
)

// ErrUnknownKind is returned for endpoint kinds other than the three above.
var ErrUnknownKind = errors.New("unknown endpoint kind")

// ParseKind parses an endpoint kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindConference, KindBridge, KindRelay:
		return k, nil
	case "":
		return KindConference, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

func (k Kind) pairing() connection.Pairing {
	switch k {
	case KindBridge:
		return connection.PairLocalRemote
	case KindRelay:
		return connection.PairRemoteRemote
	default:
		return connection.PairAll
	}
}

// Config describes one endpoint.
type Config struct {
	Name             string `mapstructure:"name"`
	Kind             string `mapstructure:"kind"`
	LocalConnections int    `mapstructure:"local"`
	RTPConnections   int    `mapstructure:"rtp"`
}

// Endpoint is a named owner of a connection pool. Conference endpoints
// carry their own audio source (announcements played into the mix) and
// sink (the mix of every connection).
type Endpoint struct {
	name string
	kind Kind

	source *component.Output
	sink   *component.Input

	mu      sync.RWMutex
	onFrame func(media.Frame)

	pool *connection.Connections
}

// New creates an endpoint and its connection pool. opts supplies the
// shared scheduler, factories and RTP manager; pool sizes and pairing
// come from cfg.
func New(cfg Config, opts connection.Options) (*Endpoint, error) {
	if cfg.Name == "" {
		return nil, errors.New("endpoint: name is required")
	}
	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{name: cfg.Name, kind: kind}
	if kind == KindConference {
		e.source = component.NewOutput(cfg.Name+"-announcement", nil)
		e.sink = component.NewInput(cfg.Name+"-recorder", nil, e.record)
	}

	opts.Pairing = kind.pairing()
	opts.LocalPoolSize = cfg.LocalConnections
	opts.RTPPoolSize = cfg.RTPConnections
	pool, err := connection.NewConnections(e, opts)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", cfg.Name, err)
	}
	e.pool = pool

	slog.Info("[Endpoint] Created",
		"endpoint", e.name,
		"kind", string(kind),
		"local", cfg.LocalConnections,
		"rtp", cfg.RTPConnections)
	return e, nil
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string { return e.name }

// Kind returns the endpoint kind.
func (e *Endpoint) Kind() Kind { return e.kind }

// Connections returns the endpoint's pool.
func (e *Endpoint) Connections() *connection.Connections { return e.pool }

// Source returns the endpoint's own media source, nil when it has none.
func (e *Endpoint) Source(mt media.MediaType) media.Source {
	if mt != media.Audio || e.source == nil {
		return nil
	}
	return e.source
}

// Sink returns the endpoint's own media sink, nil when it has none.
func (e *Endpoint) Sink(mt media.MediaType) media.Sink {
	if mt != media.Audio || e.sink == nil {
		return nil
	}
	return e.sink
}

// ModeUpdated is called by the pool when an aggregate mode changes.
func (e *Endpoint) ModeUpdated(old, mode connection.Mode) {
	slog.Debug("[Endpoint] Mode updated", "endpoint", e.name, "old_mode", old.String(), "mode", mode.String())
}

// Mode returns the aggregate audio mode.
func (e *Endpoint) Mode() connection.Mode {
	return e.pool.Mode(media.Audio)
}

// Play emits a frame into the mix heard by every sending connection.
// Frames are dropped while no connection is sending.
func (e *Endpoint) Play(f media.Frame) error {
	if e.source == nil {
		return fmt.Errorf("endpoint %s (%s) has no announcement source", e.name, e.kind)
	}
	return e.source.Emit(f)
}

// OnFrame registers a handler for the mix of every receiving connection.
func (e *Endpoint) OnFrame(h func(media.Frame)) {
	e.mu.Lock()
	e.onFrame = h
	e.mu.Unlock()
}

func (e *Endpoint) record(f media.Frame) error {
	e.mu.RLock()
	h := e.onFrame
	e.mu.RUnlock()
	if h != nil {
		h(f)
	}
	return nil
}

// Played returns the frames emitted by the announcement source.
func (e *Endpoint) Played() media.Stats {
	if e.source == nil {
		return media.Stats{}
	}
	return e.source.Transmitted()
}

// Recorded returns the frames delivered to the recording sink.
func (e *Endpoint) Recorded() media.Stats {
	if e.sink == nil {
		return media.Stats{}
	}
	return e.sink.Received()
}

// Close releases every connection of the endpoint.
func (e *Endpoint) Close() {
	e.pool.Release()
}

package server

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sebas/mediaserver/internal/mediaserver/connection"
	"github.com/sebas/mediaserver/internal/mediaserver/endpoint"
	"github.com/sebas/mediaserver/internal/mediaserver/media"
)

// Server implements ConnectionService over an endpoint registry
type Server struct {
	endpoints *endpoint.Registry
	health    *health.Server
}

var _ ConnectionServiceServer = (*Server)(nil)

// NewServer creates a new control server
func NewServer(endpoints *endpoint.Registry) *Server {
	return &Server{
		endpoints: endpoints,
		health:    health.NewServer(),
	}
}

// Register adds ConnectionService and the health service to g and marks
// both as serving.
func (s *Server) Register(g *grpc.Server) {
	RegisterConnectionServiceServer(g, s)
	healthpb.RegisterHealthServer(g, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Close reports NOT_SERVING to health watchers.
func (s *Server) Close() {
	s.health.Shutdown()
}

// CreateConnection takes a connection from an endpoint pool and binds it.
// Optional fields: type (rtp by default), remote_sdp, mode, and for local
// connections peer_endpoint plus peer_connection_id.
func (s *Server) CreateConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := request{req}
	slog.Info("[gRPC] CreateConnection",
		"endpoint", r.str("endpoint"),
		"type", r.str("type"),
		"mode", r.str("mode"))

	ep, err := s.endpoint(r)
	if err != nil {
		return nil, err
	}
	typ := connection.TypeRTP
	if raw := r.str("type"); raw != "" {
		if typ, err = connection.ParseType(raw); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	pool := ep.Connections()
	c, err := pool.CreateConnection(typ)
	if err != nil {
		return nil, toStatus("CreateConnection", err)
	}
	if err := s.setup(c, r); err != nil {
		pool.ReleaseConnection(c)
		return nil, toStatus("CreateConnection", err)
	}

	slog.Info("[gRPC] Connection created",
		"endpoint", ep.Name(),
		"connection_id", c.ID(),
		"state", c.State().String())
	return describe(c)
}

func (s *Server) setup(c *connection.Connection, r request) error {
	if err := c.Bind(); err != nil {
		return err
	}
	if sdp := r.str("remote_sdp"); sdp != "" {
		if err := c.SetRemoteDescriptor([]byte(sdp)); err != nil {
			return err
		}
	}
	if r.has("mode") {
		if err := applyMode(c, r); err != nil {
			return err
		}
	}
	if r.has("peer_connection_id") {
		peer, err := s.peer(r)
		if err != nil {
			return err
		}
		if err := c.SetOtherParty(peer); err != nil {
			return err
		}
	}
	return nil
}

// ModifyConnection changes the mode of one media type, applies a new
// remote description, or both.
func (s *Server) ModifyConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := request{req}
	slog.Info("[gRPC] ModifyConnection",
		"endpoint", r.str("endpoint"),
		"connection_id", r.str("connection_id"),
		"mode", r.str("mode"),
		"media", r.str("media"))

	c, err := s.connection(r)
	if err != nil {
		return nil, err
	}
	if sdp := r.str("remote_sdp"); sdp != "" {
		if err := c.SetRemoteDescriptor([]byte(sdp)); err != nil {
			return nil, toStatus("ModifyConnection", err)
		}
	}
	if r.has("mode") {
		if err := applyMode(c, r); err != nil {
			return nil, toStatus("ModifyConnection", err)
		}
	}
	return describe(c)
}

// DeleteConnection closes a connection and returns it to its pool.
func (s *Server) DeleteConnection(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := request{req}
	slog.Info("[gRPC] DeleteConnection",
		"endpoint", r.str("endpoint"),
		"connection_id", r.str("connection_id"))

	ep, err := s.endpoint(r)
	if err != nil {
		return nil, err
	}
	c, err := s.find(ep.Name(), r.str("connection_id"))
	if err != nil {
		return nil, err
	}
	ep.Connections().ReleaseConnection(c)
	return structpb.NewStruct(map[string]any{"connection_id": c.ID()})
}

// AuditEndpoint reports pool occupancy, aggregate modes and bridges.
func (s *Server) AuditEndpoint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r := request{req}
	ep, err := s.endpoint(r)
	if err != nil {
		return nil, err
	}
	pool := ep.Connections()

	conns := []any{}
	for _, c := range pool.Active() {
		conns = append(conns, map[string]any{
			"connection_id": c.ID(),
			"type":          c.Type().String(),
			"state":         c.State().String(),
			"mode_audio":    c.Mode(media.Audio).String(),
			"mode_video":    c.Mode(media.Video).String(),
		})
	}
	return structpb.NewStruct(map[string]any{
		"endpoint":    ep.Name(),
		"kind":        string(ep.Kind()),
		"active":      pool.ActiveCount(),
		"free_local":  pool.FreeCount(connection.TypeLocal),
		"free_rtp":    pool.FreeCount(connection.TypeRTP),
		"mode_audio":  pool.Mode(media.Audio).String(),
		"mode_video":  pool.Mode(media.Video).String(),
		"bridges":     pool.Bridges(),
		"connections": conns,
	})
}

func (s *Server) endpoint(r request) (*endpoint.Endpoint, error) {
	return s.lookup(r.str("endpoint"))
}

func (s *Server) lookup(name string) (*endpoint.Endpoint, error) {
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "endpoint is required")
	}
	ep, err := s.endpoints.Get(name)
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return ep, nil
}

func (s *Server) find(name, id string) (*connection.Connection, error) {
	ep, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	c, ok := ep.Connections().Get(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "connection %q not found on %s", id, name)
	}
	return c, nil
}

func (s *Server) connection(r request) (*connection.Connection, error) {
	return s.find(r.str("endpoint"), r.str("connection_id"))
}

// peer resolves the local connection to pair with. The peer endpoint
// defaults to the request's endpoint.
func (s *Server) peer(r request) (*connection.Connection, error) {
	name := r.str("peer_endpoint")
	if name == "" {
		name = r.str("endpoint")
	}
	return s.find(name, r.str("peer_connection_id"))
}

func applyMode(c *connection.Connection, r request) error {
	mode, err := connection.ParseMode(r.str("mode"))
	if err != nil {
		return err
	}
	mt, err := media.ParseMediaType(r.str("media"))
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return c.SetMode(mode, mt)
}

func describe(c *connection.Connection) (*structpb.Struct, error) {
	resp := map[string]any{
		"connection_id": c.ID(),
		"state":         c.State().String(),
		"mode_audio":    c.Mode(media.Audio).String(),
	}
	if c.Type() == connection.TypeRTP {
		if local, err := c.Descriptor(); err == nil {
			resp["local_sdp"] = string(local)
		}
	}
	return structpb.NewStruct(resp)
}

// request reads optional fields of a structpb request.
type request struct {
	*structpb.Struct
}

func (r request) has(key string) bool {
	_, ok := r.GetFields()[key]
	return ok
}

func (r request) str(key string) string {
	return r.GetFields()[key].GetStringValue()
}

// toStatus maps connection errors onto gRPC codes. Errors that already
// carry a status pass through.
func toStatus(op string, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, connection.ErrIllegalState):
		code = codes.FailedPrecondition
	case errors.Is(err, connection.ErrResourceUnavailable):
		code = codes.ResourceExhausted
	case errors.Is(err, connection.ErrModeNotSupported),
		errors.Is(err, connection.ErrCodecsNotNegotiated),
		errors.Is(err, media.ErrFormatNotSupported):
		code = codes.InvalidArgument
	}
	slog.Error("[gRPC] "+op+" failed", "code", code.String(), "error", err)
	return status.Error(code, err.Error())
}

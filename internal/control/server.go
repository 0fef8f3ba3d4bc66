// Package control exposes the running simulation over gRPC. The health
// service reports SERVING while the field is running and NOT_SERVING before
// it starts and after it ends.
package control

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"

	"github.com/signalsfoundry/rumor-routing-sim/internal/logging"
	"github.com/signalsfoundry/rumor-routing-sim/internal/observability"
)

// FieldService is the health service name that tracks the field.
const FieldService = "rumorsim.Field"

const requestIDMetadataKey = "x-request-id"

// State is the part of the field the control plane mirrors.
type State interface {
	Running() bool
	Ended() bool
	CurrentTime() int
}

// Server bundles the gRPC server and its health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger
}

// NewServer builds a server with tracing, request logging and, when rpc is
// non-nil, Prometheus interceptors installed.
func NewServer(log logging.Logger, rpc *observability.RPCCollector) *Server {
	log = logging.OrNoop(log)

	interceptors := []grpc.UnaryServerInterceptor{RequestLoggerUnaryServerInterceptor(log)}
	if rpc != nil {
		interceptors = append(interceptors, rpc.UnaryServerInterceptor())
	}
	gs := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)

	hs := health.NewServer()
	hs.SetServingStatus(FieldService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs, log: log}
}

// Sync copies the field's lifecycle into the health service.
func (s *Server) Sync(st State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Running() && !st.Ended() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(FieldService, status)
}

// Listener returns a pacer listener that re-syncs after every tick.
func (s *Server) Listener(st State) func(tick int) {
	return func(int) { s.Sync(st) }
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	s.log.Info(ctx, "control server listening", logging.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return nil
	}
}

// Stop stops the server immediately.
func (s *Server) Stop() { s.grpc.Stop() }

// RequestLoggerUnaryServerInterceptor attaches a logger annotated with the
// method and any inbound x-request-id to each RPC context, and maps handler
// errors onto gRPC status codes.
func RequestLoggerUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	base = logging.OrNoop(base)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		l := base.With(logging.String("method", info.FullMethod))
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				l = l.With(logging.String("request_id", vals[0]))
			}
		}
		ctx = logging.ContextWithLogger(ctx, l)
		resp, err := handler(ctx, req)
		if err != nil {
			l.Debug(ctx, "rpc failed", logging.Err(err))
		}
		return resp, ToStatusError(err)
	}
}

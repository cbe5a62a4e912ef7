package nbi

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/observability"
)

const shutdownTimeout = 5 * time.Second

// NewServer builds a gRPC server with the Simulator service registered,
// request-id and tracing interceptors, and RPC metrics when collector is
// non-nil.
func NewServer(svc SimulatorServer, collector *observability.NBICollector, log logging.Logger) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
	}
	streams := []grpc.StreamServerInterceptor{
		RequestIDStreamServerInterceptor(log),
		TracingStreamServerInterceptor(),
	}
	if collector != nil {
		unary = append(unary, collector.UnaryServerInterceptor())
		streams = append(streams, collector.StreamServerInterceptor())
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(streams...),
	)
	RegisterSimulatorServer(server, svc)
	return server
}

// Serve runs server on lis until ctx is cancelled, then stops it gracefully.
func Serve(ctx context.Context, server *grpc.Server, lis net.Listener, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()
	log.Info(ctx, "NBI gRPC server listening", logging.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down NBI server")
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		// Telemetry streams only end when their client leaves.
		log.Warn(ctx, "graceful stop timed out, closing open streams")
		server.Stop()
		<-stopped
	}
	<-errCh
	return nil
}

// Package healthcheck exposes pipeline readiness over the standard gRPC
// health protocol.
package healthcheck

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/fruitscan/internal/logging"
)

// ServiceName is the health service entry tracking artifact readiness.
const ServiceName = "fruitscan.Pipeline"

// Server serves grpc.health.v1.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer returns a health server. The overall status is SERVING; the
// pipeline entry is SERVING only when ready.
func NewServer(ready bool, logger *zap.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger.Named("healthcheck"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.SetReady(ready)
	return s
}

// SetReady updates the pipeline entry.
func (s *Server) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on listener until Stop is called.
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("gRPC health listening", zap.String("addr", listener.Addr().String()))
	err := s.grpc.Serve(listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	if err != nil {
		return logging.NewOperationError("healthcheck.serve", "", err)
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains in-flight calls, giving up
// after timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("gRPC health graceful stop timed out")
		s.grpc.Stop()
	}
}

// Check queries the health service behind conn for the pipeline status.
func Check(ctx context.Context, conn grpc.ClientConnInterface, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, logging.NewOperationError("healthcheck.check", "", err)
	}
	return resp.GetStatus(), nil
}

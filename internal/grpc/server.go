package grpc

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "pricefeed.Aggregator"

// Server exposes the standard gRPC health service so orchestration probes
// can watch the aggregator without a custom API surface.
type Server struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *logrus.Logger
}

func NewServer(port int, logger *logrus.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	return &Server{
		server:   server,
		health:   healthServer,
		listener: listener,
		logger:   logger,
	}, nil
}

// Start serves in the background and marks the service healthy.
func (s *Server) Start() {
	s.health.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	go func() {
		s.logger.WithField("addr", s.listener.Addr().String()).Info("🚀 gRPC health server listening")
		if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
			s.logger.WithError(err).Error("gRPC server failed")
		}
	}()
}

// SetServing flips the health status, e.g. while draining.
func (s *Server) SetServing(serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(serviceName, status)
}

// Stop drains gracefully, falling back to a hard stop after the timeout.
func (s *Server) Stop(timeout time.Duration) {
	s.health.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.server.Stop()
	}
	s.logger.Info("✅ gRPC server stopped")
}

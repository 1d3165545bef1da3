// Package health exposes loop liveness over the standard gRPC health
// protocol, for supervisors such as systemd watchdogs or Kubernetes probes.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service is the name reported for the attendance loop.  The empty name
// reports overall server health and mirrors it.
const Service = "rollcall.Loop"

// Probe reports whether the component is healthy.
type Probe func() bool

type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	probe  Probe
	logger *slog.Logger
}

func NewServer(probe Probe, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := grpchealth.NewServer()
	g := grpc.NewServer()
	healthpb.RegisterHealthServer(g, h)

	s := &Server{grpc: g, health: h, probe: probe, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Watch re-evaluates the probe every interval until ctx is done, then
// marks everything NOT_SERVING.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Check()

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			s.Check()
		}
	}
}

// Check evaluates the probe once and publishes the result.
func (s *Server) Check() bool {
	ok := s.probe != nil && s.probe()
	if ok {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

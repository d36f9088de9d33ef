// Package grpc serves the gRPC health protocol used by orchestration probes.
package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"bikefleet-backend/internal/api/grpc/interceptor"
	"bikefleet-backend/internal/logger"
)

// ServiceName is the health entry reported for the reconciliation backend.
const ServiceName = "bikefleet.Backend"

type HealthServer struct {
	server *grpc.Server
	health *health.Server
	check  func(ctx context.Context) error
}

// NewHealthServer builds the server. check is polled by Watch to flip the serving status.
func NewHealthServer(check func(ctx context.Context) error) *HealthServer {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptor.Recovery(), interceptor.Logging()),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)

	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &HealthServer{server: s, health: h, check: check}
}

func (s *HealthServer) Server() *grpc.Server {
	return s.server
}

// Watch re-runs the readiness check every interval until ctx is done
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	if s.check == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *HealthServer) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.check(ctx); err != nil {
		logger.Warn("Readiness check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Shutdown marks the service not serving and stops accepting RPCs
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

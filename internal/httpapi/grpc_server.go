package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"intakeportal.org/internal/obs"
)

// HealthServer exposes readiness over the standard gRPC health protocol so
// orchestrators can probe the portal without going through HTTP.
type HealthServer struct {
	probe  ReadyProbe
	health *health.Server
}

// NewHealthServer creates the gRPC health wrapper. A nil probe always serves.
func NewHealthServer(probe ReadyProbe) *HealthServer {
	return &HealthServer{probe: probe, health: health.NewServer()}
}

// Register attaches the health service to srv.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh pings the probe and publishes the result for both the overall
// server ("") and the portal service name.
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.probe.Ping(pctx)
		cancel()
		if err != nil {
			obs.From(ctx).Warn("readiness probe failed", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	return st
}

// Run refreshes the status every interval until ctx is done, then marks the
// server as shutting down.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

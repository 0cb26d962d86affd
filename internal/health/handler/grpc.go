package handler

import (
	"context"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server implements the standard grpc.health.v1.Health service on top of Checker.
type Server struct {
	healthpb.UnimplementedHealthServer
	checker *Checker
}

// NewServer returns a gRPC health server backed by checker.
func NewServer(checker *Checker) *Server {
	return &Server{checker: checker}
}

// Check reports SERVING when every readiness check passes. A failed dependency is reported as
// NOT_SERVING, never as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if s.checker.Check(ctx).Healthy() {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}

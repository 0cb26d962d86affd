package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "trade-identity/internal/health/handler"
)

// RegisterServices registers the gRPC services with s. Only grpc.health.v1.Health is served over
// gRPC; the identity API is HTTP/JSON.
func RegisterServices(s grpc.ServiceRegistrar, checker *healthhandler.Checker) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(checker))
}

// NewGRPCServer returns a gRPC server instrumented with otelgrpc and serving the health service.
func NewGRPCServer(checker *healthhandler.Checker) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterServices(s, checker)
	return s
}

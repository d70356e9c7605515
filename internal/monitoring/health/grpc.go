package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/txwatch/internal/core/domain"
)

// GRPCServer exposes the standard gRPC health service.
// Each network is a service name; the empty name reflects the worst status across networks.
type GRPCServer struct {
	addr   string
	store  *Store
	server *grpc.Server
	health *grpchealth.Server
	log    *slog.Logger
}

// NewGRPCServer registers the health service and mirrors every Put on store.
func NewGRPCServer(store *Store, port int, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = slog.Default()
	}
	g := &GRPCServer{
		addr:   fmt.Sprintf(":%d", port),
		store:  store,
		server: grpc.NewServer(),
		health: grpchealth.NewServer(),
		log:    log.With("component", "grpc-health"),
	}
	healthpb.RegisterHealthServer(g.server, g.health)

	for _, r := range store.All() {
		g.health.SetServingStatus(string(r.Network), servingStatus(r.Overall))
	}
	store.Watch(g.update)
	return g
}

func (g *GRPCServer) update(r domain.HealthCheckResult) {
	g.health.SetServingStatus(string(r.Network), servingStatus(r.Overall))
	g.health.SetServingStatus("", servingStatus(g.store.Worst()))
}

// Start listens on the configured port and serves until Stop.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.addr, err)
	}
	return g.Serve(lis)
}

// Serve serves on an existing listener.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.log.Info("gRPC health service listening", "addr", lis.Addr().String())
	return g.server.Serve(lis)
}

// Stop drains in-flight calls, forcing close when ctx ends first.
func (g *GRPCServer) Stop(ctx context.Context) {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.server.Stop()
	}
}

func servingStatus(s domain.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case domain.HealthHealthy, domain.HealthDegraded:
		return healthpb.HealthCheckResponse_SERVING
	default:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
}

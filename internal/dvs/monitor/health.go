package monitor

import (
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// EstimatorService is the health service name reported for the estimator.
const EstimatorService = "dvs.Estimator"

// HealthServer serves the standard gRPC health protocol. Both the overall
// ("") and EstimatorService statuses start NOT_SERVING.
type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	lis     net.Listener
	stopped atomic.Bool
}

// NewHealthServer binds addr and registers the health service.
func NewHealthServer(addr string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	h := &HealthServer{
		server: grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.SetServing(false)
	return h, nil
}

// Addr returns the bound address.
func (h *HealthServer) Addr() net.Addr { return h.lis.Addr() }

// Serve blocks until Stop.
func (h *HealthServer) Serve() error {
	monitoring.Diagf("[Health] gRPC health listening on %s", h.lis.Addr())
	if err := h.server.Serve(h.lis); err != nil && !h.stopped.Load() {
		return fmt.Errorf("gRPC health server: %w", err)
	}
	return nil
}

// SetServing flips the estimator and overall status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(EstimatorService, status)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (h *HealthServer) Stop() {
	if !h.stopped.CompareAndSwap(false, true) {
		return
	}
	h.health.Shutdown()
	h.server.GracefulStop()
	monitoring.Diagf("[Health] gRPC health server stopped")
}

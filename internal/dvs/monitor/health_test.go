package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/testing/protocmp"
)

func TestHealthServer(t *testing.T) {
	h, err := NewHealthServer("127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- h.Serve() }()

	conn, err := grpc.NewClient(h.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	checkResponse := func(service string) *healthpb.HealthCheckResponse {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp
	}
	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		return checkResponse(service).GetStatus()
	}

	want := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	if diff := cmp.Diff(want, checkResponse(EstimatorService), protocmp.Transform()); diff != "" {
		t.Errorf("initial health mismatch (-want +got):\n%s", diff)
	}

	h.SetServing(true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(EstimatorService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	h.SetServing(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))

	h.Stop()
	h.Stop()
	assert.NoError(t, <-served)
}

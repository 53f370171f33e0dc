package rpcserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ndajr/urlshortener-analytics/internal/datastore"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var _ healthpb.HealthServer = (*HealthService)(nil)

// HealthService reports SERVING while the mapping store answers pings.
type HealthService struct {
	healthpb.UnimplementedHealthServer
	logger *slog.Logger
	store  datastore.Pinger
}

func NewHealthService(logger *slog.Logger, store datastore.Pinger) HealthService {
	return HealthService{logger: logger, store: store}
}

func (h HealthService) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if err := h.up(ctx); err != nil {
		h.logger.Warn("health check failed", "error", err)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

func (h HealthService) up(ctx context.Context) error {
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("health: store not ok: %w", err)
	}
	return nil
}

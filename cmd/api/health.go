package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// pinger is a backend with a cheap round trip: the MongoDB client or the
// owner cache.
type pinger interface {
	Ping(ctx context.Context) error
}

// checkReadiness pings every dependency and reports the result on both the
// overall and the PetMarketService health entries.
func checkReadiness(ctx context.Context, hs *health.Server, deps map[string]pinger, log *zap.Logger) bool {
	ready := true
	for name, dep := range deps {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := dep.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Warn("dependency not ready", zap.String("dependency", name), zap.Error(err))
			ready = false
		}
	}

	st := healthpb.HealthCheckResponse_SERVING
	if !ready {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", st)
	hs.SetServingStatus(serviceName, st)
	return ready
}

// watchReadiness re-checks the dependencies every interval until ctx is done.
func watchReadiness(ctx context.Context, hs *health.Server, deps map[string]pinger, interval time.Duration, log *zap.Logger) {
	checkReadiness(ctx, hs, deps, log)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkReadiness(ctx, hs, deps, log)
		}
	}
}

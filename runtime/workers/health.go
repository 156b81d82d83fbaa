package workers

import (
	"context"
	"log/slog"
	"social-lab/contract"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthWorker probes the store and publishes the result on the gRPC health service.
type HealthWorker struct {
	log      *slog.Logger
	store    contract.Store
	health   *health.Server
	service  string
	interval time.Duration
	timeout  time.Duration
}

func NewHealthWorker(log *slog.Logger, store contract.Store, health *health.Server, service string, interval, timeout time.Duration) *HealthWorker {
	return &HealthWorker{log: log, store: store, health: health, service: service, interval: interval, timeout: timeout}
}

func (w *HealthWorker) Run(ctx context.Context) error {
	w.probe(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.health.SetServingStatus(w.service, healthpb.HealthCheckResponse_NOT_SERVING)
			return nil
		case <-ticker.C:
			w.probe(ctx)
		}
	}
}

func (w *HealthWorker) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := w.store.View(probeCtx, func(contract.Txn) error { return nil }); err != nil {
		w.log.Warn("Store probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	w.health.SetServingStatus(w.service, status)
}

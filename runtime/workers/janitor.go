package workers

import (
	"context"
	"log/slog"
	"time"
)

// Evicter drops state nobody needs anymore and reports how much.
type Evicter interface {
	Evict() int
}

// JanitorWorker periodically evicts idle rate limit buckets.
type JanitorWorker struct {
	log      *slog.Logger
	evicter  Evicter
	interval time.Duration
}

func NewJanitorWorker(log *slog.Logger, evicter Evicter, interval time.Duration) *JanitorWorker {
	return &JanitorWorker{log: log, evicter: evicter, interval: interval}
}

func (w *JanitorWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if evicted := w.evicter.Evict(); evicted > 0 {
				w.log.Debug("Idle buckets evicted", "count", evicted)
			}
		}
	}
}

package workers

import (
	"context"
	"fmt"
	"log/slog"
	"social-lab/domain"
	"time"
)

type Reconciler interface {
	Reconcile(ctx context.Context) (domain.Outcome, error)
}

// Applier pushes subscription changes and deliveries to live connections.
type Applier interface {
	Apply(ctx context.Context, conn domain.ConnID, outcome domain.Outcome)
}

// ReconcilerWorker repairs state left behind by an interrupted change: party
// conversations out of line with their party, presences still online after their
// last connection. It runs once at startup, then on every tick. A failed pass is
// retried on the next tick.
type ReconcilerWorker struct {
	log         *slog.Logger
	reconcilers []Reconciler
	applier     Applier
	interval    time.Duration
	timeout     time.Duration
}

func NewReconcilerWorker(log *slog.Logger, applier Applier, interval, timeout time.Duration, reconcilers ...Reconciler) *ReconcilerWorker {
	return &ReconcilerWorker{log: log, reconcilers: reconcilers, applier: applier, interval: interval, timeout: timeout}
}

func (w *ReconcilerWorker) Run(ctx context.Context) error {
	w.pass(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass gives each reconciler its own timeout, one failing never skips the others.
func (w *ReconcilerWorker) pass(ctx context.Context) {
	for _, reconciler := range w.reconcilers {
		if err := w.reconcile(ctx, reconciler); err != nil && ctx.Err() == nil {
			w.log.Warn("Reconciliation failed", "reconciler", fmt.Sprintf("%T", reconciler), "error", err)
		}
	}
}

func (w *ReconcilerWorker) reconcile(ctx context.Context, reconciler Reconciler) error {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	outcome, err := reconciler.Reconcile(runCtx)
	// A partial outcome still carries repairs that were committed
	if changes := len(outcome.Joins) + len(outcome.Leaves) + len(outcome.Drops) + len(outcome.Deliveries); changes > 0 {
		w.log.Info("State repaired", "reconciler", fmt.Sprintf("%T", reconciler), "changes", changes)
		w.applier.Apply(ctx, "", outcome)
	}
	return err
}

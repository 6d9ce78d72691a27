package core

// scheduler.go runs background maintenance: finished jobs older than the
// retention period are pruned from history. The pruner runs once on start
// and then every CheckInterval until its context is cancelled. A failed
// prune is logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// PruneConfig configures StartHistoryPruner.
type PruneConfig struct {
	Retention     time.Duration // age after which finished jobs are deleted
	CheckInterval time.Duration // how often to prune
}

// StartHistoryPruner blocks, pruning history periodically, until ctx is
// cancelled. A non-positive Retention or CheckInterval disables it.
func (s *Service) StartHistoryPruner(ctx context.Context, cfg PruneConfig) {
	if cfg.Retention <= 0 || cfg.CheckInterval <= 0 {
		slog.Info("history pruner disabled")
		return
	}
	slog.Info("history pruner started",
		"retention", cfg.Retention.String(),
		"interval", cfg.CheckInterval.String(),
	)

	s.pruneHistory(ctx, cfg.Retention)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history pruner stopped")
			return
		case <-ticker.C:
			s.pruneHistory(ctx, cfg.Retention)
		}
	}
}

// pruneHistory performs one prune cycle.
func (s *Service) pruneHistory(ctx context.Context, retention time.Duration) {
	start := time.Now()
	n, err := s.history.Prune(ctx, s.now().Add(-retention))
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return
	}
	slog.Info("pruned job history",
		"jobs_pruned", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/limits/storage"
)

// Pruner removes expired entries from a store.
type Pruner struct {
	store  storage.Cleaner
	now    func() time.Time
	logger *slog.Logger
}

// NewPruner creates a pruner for store.
func NewPruner(store storage.Cleaner) *Pruner {
	return &Pruner{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "retention.pruner"),
	}
}

// Prune removes every entry that has expired by now and returns the number
// of entries removed.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	start := time.Now()

	deleted, err := p.store.Cleanup(ctx, p.now())
	if err != nil {
		return deleted, fmt.Errorf("failed to prune expired state: %w", err)
	}

	p.logger.Debug("pruned expired state",
		"deleted_count", deleted,
		"duration", time.Since(start),
	)
	return deleted, nil
}

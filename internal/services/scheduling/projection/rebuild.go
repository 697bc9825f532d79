package projection

import (
	"context"
	"fmt"
)

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Aggregates int
	Events     int
}

// Rebuild wipes the read model and replays every stream in the event log.
func (a *Applier) Rebuild(ctx context.Context) (RebuildStats, error) {
	if err := a.store.Reset(ctx); err != nil {
		return RebuildStats{}, fmt.Errorf("reset read model: %w", err)
	}
	return a.CatchUpAll(ctx)
}

// CatchUpAll brings every stream's projection up to the log head.
func (a *Applier) CatchUpAll(ctx context.Context) (RebuildStats, error) {
	ids, err := a.events.ListAggregateIDs(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("list aggregate ids: %w", err)
	}
	var stats RebuildStats
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		n, err := a.CatchUp(ctx, id)
		stats.Events += n
		if err != nil {
			return stats, err
		}
		stats.Aggregates++
	}
	a.logger.Info("projection caught up", "aggregates", stats.Aggregates, "events", stats.Events)
	return stats, nil
}

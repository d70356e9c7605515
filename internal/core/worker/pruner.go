package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/txwatch/internal/core/domain"
	"github.com/vietddude/txwatch/internal/infra/storage"
)

// Pruner deletes history records older than the retention period.
type Pruner struct {
	retention time.Duration
	networks  []domain.NetworkID
	history   storage.HistoryRepository
	log       *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. retention <= 0 disables pruning.
func NewPruner(
	retention time.Duration,
	networks []domain.NetworkID,
	history storage.HistoryRepository,
) *Pruner {
	return &Pruner{
		retention: retention,
		networks:  networks,
		history:   history,
		log:       slog.Default().With("component", "pruner"),
		now:       time.Now,
	}
}

// Interval is a tenth of the retention period, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass over every network and returns the number of records removed.
func (p *Pruner) Prune(ctx context.Context) int {
	threshold := p.now().Add(-p.retention)
	total := 0
	for _, network := range p.networks {
		n, err := p.history.DeleteOlderThan(ctx, network, threshold)
		if err != nil {
			p.log.Error("failed to prune history", "network", network, "error", err)
			continue
		}
		if n > 0 {
			p.log.Debug("pruned history", "network", network, "removed", n)
		}
		total += n
	}
	return total
}

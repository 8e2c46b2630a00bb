package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/timeline-party/internal/config"
	"github.com/timeline-party/internal/domain"
	"github.com/timeline-party/internal/postgres"
	"github.com/timeline-party/internal/redis"
	"github.com/timeline-party/internal/store"
)

// LiveStore is the hot game store the worker copies from
type LiveStore interface {
	GameIDs(ctx context.Context) ([]string, error)
	GetSnapshot(ctx context.Context, gameID string) (*redis.Snapshot, error)
	Evict(ctx context.Context, gameID, revision string) (bool, error)
	Restore(ctx context.Context, g *domain.Game) (bool, error)
}

// Archive is the durable game storage
type Archive interface {
	ArchiveGames(ctx context.Context, games []postgres.ArchivedGame) error
	ListUnfinished(ctx context.Context) ([]*domain.Game, error)
}

// SyncWorker periodically copies games from Redis to PostgreSQL and evicts
// finished games from Redis once they are archived
type SyncWorker struct {
	live    LiveStore
	archive Archive
	config  *config.SyncConfig
	logger  *slog.Logger
	now     func() time.Time

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// CycleStats summarizes one sync cycle
type CycleStats struct {
	Archived int
	Evicted  int
	Errors   int
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(live LiveStore, archive Archive, cfg *config.SyncConfig, logger *slog.Logger) *SyncWorker {
	return &SyncWorker{
		live:    live,
		archive: archive,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// final pass so nothing committed since the last tick is lost
			w.RunOnce(context.WithoutCancel(ctx))
			return
		case <-w.stopCh:
			w.RunOnce(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single sync cycle
func (w *SyncWorker) RunOnce(ctx context.Context) CycleStats {
	startTime := time.Now()
	var stats CycleStats

	ids, err := w.live.GameIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list games for sync", "error", err)
		stats.Errors++
		return stats
	}

	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		snaps := w.snapshots(ctx, ids[start:end], &stats)
		if len(snaps) == 0 {
			continue
		}

		batch := make([]postgres.ArchivedGame, len(snaps))
		for i, snap := range snaps {
			batch[i] = postgres.ArchivedGame{Game: snap.Game, Revision: snap.Revision}
		}
		if err := w.archive.ArchiveGames(ctx, batch); err != nil {
			w.logger.Error("failed to archive games", "count", len(batch), "error", err)
			stats.Errors++
			continue
		}
		stats.Archived += len(batch)

		for _, snap := range snaps {
			w.evictIfExpired(ctx, snap, &stats)
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"archived", stats.Archived,
		"evicted", stats.Evicted,
		"errors", stats.Errors,
	)
	return stats
}

func (w *SyncWorker) snapshots(ctx context.Context, ids []string, stats *CycleStats) []*redis.Snapshot {
	snaps := make([]*redis.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := w.live.GetSnapshot(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			w.logger.Error("failed to read game for sync", "game_id", id, "error", err)
			stats.Errors++
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

// evictIfExpired drops a finished game from Redis after the retention period.
// The revision guard keeps a game that changed since the snapshot.
func (w *SyncWorker) evictIfExpired(ctx context.Context, snap *redis.Snapshot, stats *CycleStats) {
	if !snap.Game.State.IsTerminal() {
		return
	}
	if w.now().Sub(snap.UpdatedAt) < w.config.Retention {
		return
	}
	evicted, err := w.live.Evict(ctx, snap.Game.ID, snap.Revision)
	if err != nil {
		w.logger.Error("failed to evict game", "game_id", snap.Game.ID, "error", err)
		stats.Errors++
		return
	}
	if evicted {
		stats.Evicted++
		w.logger.Debug("evicted finished game", "game_id", snap.Game.ID, "state", snap.Game.State)
	}
}

// RestoreUnfinished copies archived games that are still in progress back
// into Redis. Games already present in Redis are left untouched.
func (w *SyncWorker) RestoreUnfinished(ctx context.Context) (int, error) {
	w.logger.Info("restoring unfinished games from database")

	games, err := w.archive.ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, g := range games {
		ok, err := w.live.Restore(ctx, g)
		if err != nil {
			w.logger.Error("failed to restore game", "game_id", g.ID, "error", err)
			continue
		}
		if ok {
			restored++
		}
	}

	w.logger.Info("completed restoring games", "found", len(games), "restored", restored)
	return restored, nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

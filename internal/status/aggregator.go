package status

import (
	"context"
	"time"

	"tillsync/internal/domain"
	"tillsync/internal/events"
	"tillsync/internal/models"
	"tillsync/internal/store"

	"github.com/rs/zerolog"
)

// ConnectivityState exposes the live online/offline signal.
type ConnectivityState interface {
	IsOnline() bool
}

// SyncState exposes the live state of the sync worker.
type SyncState interface {
	IsSyncing() bool
	LastPassError() string
}

// Aggregator assembles the sync status summary for the POS UI. Queue
// counts are cached in the snapshot repository and invalidated by
// queue events; the volatile fields (online, syncing, last error) are
// always read live so the summary never shows a stale spinner.
type Aggregator struct {
	store      *store.Store
	conn       ConnectivityState
	sync       SyncState
	snapshots  domain.SnapshotRepository
	terminalID string
	logger     zerolog.Logger
}

func NewAggregator(st *store.Store, conn ConnectivityState, sync SyncState, snapshots domain.SnapshotRepository, terminalID string, bus *events.EventBus, logger *zerolog.Logger) *Aggregator {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "status").Logger()
	}

	a := &Aggregator{
		store:      st,
		conn:       conn,
		sync:       sync,
		snapshots:  snapshots,
		terminalID: terminalID,
		logger:     l,
	}

	if bus != nil {
		invalidate := func(*events.Event) error {
			a.Invalidate(context.Background())
			return nil
		}
		bus.Subscribe(events.EventSaleEnqueued, invalidate)
		bus.Subscribe(events.EventSyncPassCompleted, invalidate)
		bus.Subscribe(events.EventQueueCleared, invalidate)
	}

	return a
}

// Summary returns the current sync status. Served from the cached
// snapshot when one exists, rebuilt from the queue database otherwise.
func (a *Aggregator) Summary(ctx context.Context) (*models.SyncStatusSummary, error) {
	if a.snapshots != nil {
		cached, err := a.snapshots.GetSnapshot(ctx, a.terminalID)
		if err != nil {
			a.logger.Warn().Err(err).Msg("snapshot read failed, rebuilding summary")
		} else if cached != nil {
			a.overlayLive(cached)
			return cached, nil
		}
	}

	return a.Refresh(ctx)
}

// Refresh rebuilds the summary from the queue database and stores it
// in the snapshot cache.
func (a *Aggregator) Refresh(ctx context.Context) (*models.SyncStatusSummary, error) {
	counts, err := a.store.CountsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	lastSync, err := a.store.LastSyncAt(ctx)
	if err != nil {
		return nil, err
	}

	summary := &models.SyncStatusSummary{
		LastSyncAt: lastSync,
		// Записи в uploading еще не подтверждены сервером и для UI
		// считаются ожидающими отправки
		QueuedCount: counts[models.StatusQueued] + counts[models.StatusUploading],
		FailedCount: counts[models.StatusFailed],
		SyncedCount: counts[models.StatusSynced],
	}
	a.overlayLive(summary)

	if a.snapshots != nil {
		if err := a.snapshots.SetSnapshot(ctx, a.terminalID, summary); err != nil {
			a.logger.Warn().Err(err).Msg("failed to cache status snapshot")
		}
	}

	return summary, nil
}

// Invalidate drops the cached snapshot; the next read rebuilds it.
func (a *Aggregator) Invalidate(ctx context.Context) {
	if a.snapshots == nil {
		return
	}
	if err := a.snapshots.ClearSnapshot(ctx, a.terminalID); err != nil {
		a.logger.Warn().Err(err).Msg("failed to invalidate status snapshot")
	}
}

func (a *Aggregator) overlayLive(summary *models.SyncStatusSummary) {
	summary.IsOnline = a.conn.IsOnline()
	summary.IsSyncing = a.sync.IsSyncing()
	summary.SyncError = a.sync.LastPassError()
	summary.GeneratedAt = time.Now().UTC()
}

package repository

import (
	"context"
	"sync"
	"time"

	"tillsync/internal/models"
)

type MemorySnapshotRepository struct {
	snapshots sync.Map
	ttl       time.Duration
}

func NewMemorySnapshotRepository(ttl time.Duration) *MemorySnapshotRepository {
	return &MemorySnapshotRepository{
		ttl: ttl,
	}
}

type snapshotEntry struct {
	summary   *models.SyncStatusSummary
	expiresAt time.Time
}

func (r *MemorySnapshotRepository) GetSnapshot(ctx context.Context, terminalID string) (*models.SyncStatusSummary, error) {
	val, ok := r.snapshots.Load(terminalID)
	if !ok {
		return nil, nil
	}
	entry := val.(*snapshotEntry)
	if time.Now().After(entry.expiresAt) {
		r.snapshots.Delete(terminalID)
		return nil, nil
	}
	return entry.summary, nil
}

func (r *MemorySnapshotRepository) SetSnapshot(ctx context.Context, terminalID string, summary *models.SyncStatusSummary) error {
	r.snapshots.Store(terminalID, &snapshotEntry{
		summary:   summary,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemorySnapshotRepository) ClearSnapshot(ctx context.Context, terminalID string) error {
	r.snapshots.Delete(terminalID)
	return nil
}

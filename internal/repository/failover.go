package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tillsync/internal/domain"
	"tillsync/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSnapshotRepository serves snapshots from the primary store
// (redis) and degrades to the in-memory fallback when it fails. Reads
// periodically retest the primary so recovery is automatic.
type FailoverSnapshotRepository struct {
	primary  domain.SnapshotRepository
	fallback domain.SnapshotRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverSnapshotRepository(primary, fallback domain.SnapshotRepository, logger *zerolog.Logger) *FailoverSnapshotRepository {
	return &FailoverSnapshotRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSnapshotRepository) markDown() {
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverSnapshotRepository) shouldRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > time.Minute
}

func (r *FailoverSnapshotRepository) GetSnapshot(ctx context.Context, terminalID string) (*models.SyncStatusSummary, error) {
	if !r.isDown.Load() {
		summary, err := r.primary.GetSnapshot(ctx, terminalID)
		if err == nil {
			return summary, nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && r.shouldRetry() {
		summary, err := r.primary.GetSnapshot(ctx, terminalID)
		if err == nil {
			r.isDown.Store(false)
			return summary, nil
		}
		r.mu.Lock()
		r.lastCheck = time.Now()
		r.mu.Unlock()
	}

	return r.fallback.GetSnapshot(ctx, terminalID)
}

func (r *FailoverSnapshotRepository) SetSnapshot(ctx context.Context, terminalID string, summary *models.SyncStatusSummary) error {
	if !r.isDown.Load() {
		err := r.primary.SetSnapshot(ctx, terminalID, summary)
		if err == nil {
			// Mirror into fallback so a later failover still has data
			_ = r.fallback.SetSnapshot(ctx, terminalID, summary)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.SetSnapshot(ctx, terminalID, summary)
}

func (r *FailoverSnapshotRepository) ClearSnapshot(ctx context.Context, terminalID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearSnapshot(ctx, terminalID)
		if err == nil {
			_ = r.fallback.ClearSnapshot(ctx, terminalID)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary snapshot repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.ClearSnapshot(ctx, terminalID)
}

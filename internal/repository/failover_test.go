package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tillsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySnapshotRepo struct {
	mu      sync.Mutex
	failing bool
	inner   *MemorySnapshotRepository
	calls   int
}

func newFlakySnapshotRepo() *flakySnapshotRepo {
	return &flakySnapshotRepo{inner: NewMemorySnapshotRepository(time.Hour)}
}

func (f *flakySnapshotRepo) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakySnapshotRepo) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failing {
		return errors.New("connection refused")
	}
	return nil
}

func (f *flakySnapshotRepo) GetSnapshot(ctx context.Context, terminalID string) (*models.SyncStatusSummary, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.inner.GetSnapshot(ctx, terminalID)
}

func (f *flakySnapshotRepo) SetSnapshot(ctx context.Context, terminalID string, summary *models.SyncStatusSummary) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.SetSnapshot(ctx, terminalID, summary)
}

func (f *flakySnapshotRepo) ClearSnapshot(ctx context.Context, terminalID string) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.inner.ClearSnapshot(ctx, terminalID)
}

func newFailoverUnderTest() (*FailoverSnapshotRepository, *flakySnapshotRepo, *MemorySnapshotRepository) {
	primary := newFlakySnapshotRepo()
	fallback := NewMemorySnapshotRepository(time.Hour)
	logger := zerolog.Nop()
	return NewFailoverSnapshotRepository(primary, fallback, &logger), primary, fallback
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	repo, _, _ := newFailoverUnderTest()
	ctx := context.Background()

	require.NoError(t, repo.SetSnapshot(ctx, "till-1", &models.SyncStatusSummary{QueuedCount: 3}))

	got, err := repo.GetSnapshot(ctx, "till-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.QueuedCount)
}

func TestFailoverFallsBackOnPrimaryError(t *testing.T) {
	repo, primary, _ := newFailoverUnderTest()
	ctx := context.Background()

	primary.setFailing(true)

	// Write lands in the fallback, read comes back from it
	require.NoError(t, repo.SetSnapshot(ctx, "till-1", &models.SyncStatusSummary{QueuedCount: 5}))

	got, err := repo.GetSnapshot(ctx, "till-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.QueuedCount)
}

func TestFailoverServesFallbackWhileDown(t *testing.T) {
	repo, primary, _ := newFailoverUnderTest()
	ctx := context.Background()

	primary.setFailing(true)
	require.NoError(t, repo.SetSnapshot(ctx, "till-1", &models.SyncStatusSummary{QueuedCount: 1}))

	primary.mu.Lock()
	callsAfterFailure := primary.calls
	primary.mu.Unlock()

	// While marked down, calls go straight to the fallback without
	// hammering the primary on every request
	for i := 0; i < 5; i++ {
		_, err := repo.GetSnapshot(ctx, "till-1")
		require.NoError(t, err)
	}

	primary.mu.Lock()
	assert.Equal(t, callsAfterFailure, primary.calls)
	primary.mu.Unlock()
}

func TestFailoverMirrorsWritesIntoFallback(t *testing.T) {
	repo, primary, fallback := newFailoverUnderTest()
	ctx := context.Background()

	require.NoError(t, repo.SetSnapshot(ctx, "till-1", &models.SyncStatusSummary{QueuedCount: 9}))

	// Primary dies after a healthy write; the fallback still has data
	primary.setFailing(true)
	got, err := fallback.GetSnapshot(ctx, "till-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 9, got.QueuedCount)
}

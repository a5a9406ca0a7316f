package domain

import (
	"context"

	"tillsync/internal/models"
)

// SnapshotRepository caches the latest sync status summary so status
// reads do not hit the queue database on every call.
type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, terminalID string) (*models.SyncStatusSummary, error)
	SetSnapshot(ctx context.Context, terminalID string, summary *models.SyncStatusSummary) error
	ClearSnapshot(ctx context.Context, terminalID string) error
}

// EventPublisher decouples producers from the event bus.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

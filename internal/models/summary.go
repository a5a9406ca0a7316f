package models

import "time"

// SyncStatusSummary is the read-only snapshot consumed by the UI.
// It is derived state, recomputed on demand, never authoritative.
type SyncStatusSummary struct {
	IsOnline    bool       `json:"is_online"`
	IsSyncing   bool       `json:"is_syncing"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	QueuedCount int        `json:"queued_count"`
	FailedCount int        `json:"failed_count"`
	SyncedCount int        `json:"synced_count"`
	SyncError   string     `json:"sync_error,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
}

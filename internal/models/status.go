package models

// SaleStatus is the closed set of queue states for a QueuedSale.
type SaleStatus string

const (
	StatusQueued    SaleStatus = "queued"
	StatusUploading SaleStatus = "uploading"
	StatusSynced    SaleStatus = "synced"
	StatusFailed    SaleStatus = "failed"
)

// Valid reports whether the value is one of the known states.
func (s SaleStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusUploading, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
// Only synced is terminal; failed records stay eligible for retry.
func (s SaleStatus) Terminal() bool {
	return s == StatusSynced
}

// CanTransition reports whether the state machine allows moving to the
// given state.
func (s SaleStatus) CanTransition(to SaleStatus) bool {
	switch s {
	case StatusQueued:
		return to == StatusUploading
	case StatusUploading:
		return to == StatusSynced || to == StatusFailed || to == StatusQueued
	case StatusFailed:
		return to == StatusUploading
	case StatusSynced:
		return false
	}
	return false
}

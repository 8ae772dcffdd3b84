package models

// SyncStatus is the user-visible engine status.
type SyncStatus string

const (
	StatusIdle     SyncStatus = "idle"
	StatusSyncing  SyncStatus = "syncing"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
	StatusOffline  SyncStatus = "offline"
)

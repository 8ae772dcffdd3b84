package models

import (
	"encoding/json"
	"time"
)

// TaskStatus tracks a sync task's progress through one cycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// SyncDirection is the direction a task moves data.
type SyncDirection string

const (
	DirectionPush SyncDirection = "push"
	DirectionPull SyncDirection = "pull"
)

// SyncTask is a unit of network-bound work within one sync cycle. Tasks are
// created and destroyed inside a single cycle; they are never persisted
// across cycles except as a queued OfflineOperation.
type SyncTask struct {
	ID         string        `json:"id"`
	ItemID     string        `json:"item_id"`
	Operation  Operation     `json:"operation"`
	Direction  SyncDirection `json:"direction"`
	Status     TaskStatus    `json:"status"`
	Progress   float64       `json:"progress"`
	RetryCount int           `json:"retry_count"`
}

// OfflineOperation is a mutation queued while disconnected. Operations drain
// in FIFO order once connectivity resumes.
type OfflineOperation struct {
	Seq        int64           `json:"seq"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	QueuedAt   time.Time       `json:"queued_at"`
}

// Delta converts the queued mutation into a delta proposal. The checksum is
// filled in by the generator before the delta enters conflict detection.
func (op *OfflineOperation) Delta() DeltaData {
	return DeltaData{
		Operation:  op.Operation,
		EntityType: op.EntityType,
		EntityID:   op.EntityID,
		Timestamp:  op.QueuedAt,
		Data:       op.Data,
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Operation is the kind of change a delta proposes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// DeltaData is a single proposed change to one entity.
//
// Deltas are immutable once created; changing a decision requires a new
// delta. Delete deltas carry no Data and no Checksum.
type DeltaData struct {
	Operation        Operation       `json:"operation"`
	EntityType       EntityType      `json:"entity_type"`
	EntityID         string          `json:"entity_id"`
	Timestamp        time.Time       `json:"timestamp"`
	Version          int             `json:"version,omitempty"`
	Checksum         string          `json:"checksum,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	PreviousChecksum string          `json:"previous_checksum,omitempty"`
}

// Key returns the entity key this delta targets.
func (d *DeltaData) Key() EntityKey {
	return EntityKey{Type: d.EntityType, ID: d.EntityID}
}

// Validate checks the delta structure.
func (d *DeltaData) Validate() error {
	if !d.Operation.Valid() {
		return fmt.Errorf("unknown operation: %q", d.Operation)
	}
	if !d.EntityType.Valid() {
		return fmt.Errorf("unknown entity type: %q", d.EntityType)
	}
	if strings.TrimSpace(d.EntityID) == "" {
		return fmt.Errorf("entity ID is required")
	}
	if d.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if d.Operation == OpDelete {
		if len(d.Data) > 0 {
			return fmt.Errorf("delete delta must not carry data")
		}
		return nil
	}
	if len(d.Data) == 0 {
		return fmt.Errorf("%s delta requires data", d.Operation)
	}
	if d.Checksum == "" {
		return fmt.Errorf("%s delta requires a checksum", d.Operation)
	}
	return nil
}

// Clone creates a deep copy of the delta.
func (d *DeltaData) Clone() *DeltaData {
	clone := *d
	if d.Data != nil {
		clone.Data = make(json.RawMessage, len(d.Data))
		copy(clone.Data, d.Data)
	}
	return &clone
}

// Identity returns the tuple used for checkpoint digests.
func (d *DeltaData) Identity() string {
	return fmt.Sprintf("%s|%s|%s|%d",
		d.EntityType, d.EntityID, d.Operation, d.Timestamp.UnixNano())
}

// DeltaBatch is one page of remote deltas.
type DeltaBatch struct {
	Deltas   []DeltaData `json:"deltas"`
	Cursor   string      `json:"cursor,omitempty"`
	Checksum string      `json:"checksum,omitempty"`
}

// HasMore reports whether another page must be fetched before the engine may
// advance its checkpoint.
func (b *DeltaBatch) HasMore() bool {
	return b.Cursor != ""
}

// PushResult is the server response to a push of local changes.
type PushResult struct {
	Succeeded []string    `json:"succeeded"`
	Conflicts []DeltaData `json:"conflicts,omitempty"`
}

// SortDeltas orders deltas by timestamp ascending, breaking ties by entity
// key so the order is deterministic.
func SortDeltas(deltas []DeltaData) {
	sort.Slice(deltas, func(i, j int) bool {
		if !deltas[i].Timestamp.Equal(deltas[j].Timestamp) {
			return deltas[i].Timestamp.Before(deltas[j].Timestamp)
		}
		return deltas[i].Key().String() < deltas[j].Key().String()
	})
}

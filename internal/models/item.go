package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType identifies the kind of entity a sync item holds.
type EntityType string

const (
	EntityDocument EntityType = "document"
	EntityMedia    EntityType = "media"
	EntityConfig   EntityType = "config"
)

// EntityTypes lists every valid entity type in a stable order.
var EntityTypes = []EntityType{EntityDocument, EntityMedia, EntityConfig}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityDocument, EntityMedia, EntityConfig:
		return true
	}
	return false
}

// ItemStatus tracks the local sync state of an item.
type ItemStatus string

const (
	ItemSynced   ItemStatus = "synced"
	ItemModified ItemStatus = "modified"
	ItemDeleted  ItemStatus = "deleted"
)

// EntityKey identifies one entity across local and remote delta sets.
type EntityKey struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// SyncItem is a locally tracked entity snapshot.
//
// Version strictly increases on every accepted mutation. Checksum is always
// the digest of the canonicalized Data, never stale.
type SyncItem struct {
	ID           string          `json:"id"`
	Type         EntityType      `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Status       ItemStatus      `json:"status"`
	LastModified time.Time       `json:"last_modified"`
	Version      int             `json:"version"`
	Checksum     string          `json:"checksum"`
}

// Key returns the entity key for this item.
func (i *SyncItem) Key() EntityKey {
	return EntityKey{Type: i.Type, ID: i.ID}
}

// Dirty reports whether the item carries unsynced local mutations.
func (i *SyncItem) Dirty() bool {
	return i.Status != ItemSynced
}

// Validate checks the item structure.
func (i *SyncItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("item ID is required")
	}
	if !i.Type.Valid() {
		return fmt.Errorf("unknown entity type: %q", i.Type)
	}
	if i.Version < 0 {
		return fmt.Errorf("version cannot be negative")
	}
	switch i.Status {
	case ItemSynced, ItemModified, ItemDeleted:
	default:
		return fmt.Errorf("unknown item status: %q", i.Status)
	}
	return nil
}

// Clone creates a deep copy of the item.
func (i *SyncItem) Clone() *SyncItem {
	clone := *i
	if i.Data != nil {
		clone.Data = make(json.RawMessage, len(i.Data))
		copy(clone.Data, i.Data)
	}
	return &clone
}

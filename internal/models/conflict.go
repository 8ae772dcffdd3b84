package models

import (
	"fmt"
	"strings"
	"time"
)

// ConflictKind classifies why two deltas conflict.
type ConflictKind string

const (
	ConflictContent   ConflictKind = "content"
	ConflictTimestamp ConflictKind = "timestamp"
	ConflictVersion   ConflictKind = "version"
)

// ResolutionStrategy selects how conflicts are settled.
type ResolutionStrategy string

const (
	StrategyLocalWins  ResolutionStrategy = "local_wins"
	StrategyRemoteWins ResolutionStrategy = "remote_wins"
	StrategyMerge      ResolutionStrategy = "merge"
	StrategyTimestamp  ResolutionStrategy = "timestamp"
	StrategyManual     ResolutionStrategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case StrategyLocalWins, StrategyRemoteWins, StrategyMerge, StrategyTimestamp, StrategyManual:
		return true
	}
	return false
}

// ConflictStatus tracks a conflict record's lifecycle.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictFailed   ConflictStatus = "failed"
	ConflictIgnored  ConflictStatus = "ignored"
)

// ConflictRecord captures a detected local/remote divergence for one entity.
//
// Created by the detector, closed by the resolver. Under the manual strategy
// it stays pending until an external decision supplies ResolvedData.
type ConflictRecord struct {
	ID             string             `json:"id"`
	EntityType     EntityType         `json:"entity_type"`
	RecordID       string             `json:"record_id"`
	Kind           ConflictKind       `json:"kind"`
	Local          DeltaData          `json:"local"`
	Remote         DeltaData          `json:"remote"`
	ConflictFields []string           `json:"conflict_fields,omitempty"`
	Strategy       ResolutionStrategy `json:"strategy"`
	Status         ConflictStatus     `json:"status"`
	ResolvedData   *DeltaData         `json:"resolved_data,omitempty"`
	DetectedAt     time.Time          `json:"detected_at"`
	ResolvedAt     time.Time          `json:"resolved_at,omitempty"`
}

// Key returns the entity key both sides of the conflict target.
func (c *ConflictRecord) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.RecordID}
}

// Open reports whether the conflict still needs a decision.
func (c *ConflictRecord) Open() bool {
	return c.Status == ConflictPending
}

// Resolve closes the record with the given authoritative delta.
func (c *ConflictRecord) Resolve(resolved *DeltaData, at time.Time) {
	c.ResolvedData = resolved
	c.Status = ConflictResolved
	c.ResolvedAt = at
}

// Validate checks the record structure.
func (c *ConflictRecord) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("conflict ID is required")
	}
	if !c.EntityType.Valid() {
		return fmt.Errorf("unknown entity type: %q", c.EntityType)
	}
	if strings.TrimSpace(c.RecordID) == "" {
		return fmt.Errorf("record ID is required")
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown strategy: %q", c.Strategy)
	}
	if c.Status == ConflictResolved && c.ResolvedData == nil {
		return fmt.Errorf("resolved conflict requires resolved data")
	}
	return nil
}

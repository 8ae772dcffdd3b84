package sync

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pagesmith/pagesync/internal/events"
	"github.com/pagesmith/pagesync/internal/models"
)

// Detector pairs local and remote delta sets by entity key and classifies
// each pair as conflicting or not.
type Detector struct {
	window   time.Duration
	strategy models.ResolutionStrategy
	logger   *events.Logger
	now      func() time.Time
}

// NewDetector creates a conflict detector. window is the timestamp
// proximity heuristic; pairs closer than it are treated as racing writes.
func NewDetector(window time.Duration, strategy models.ResolutionStrategy, logger *events.Logger) *Detector {
	return &Detector{
		window:   window,
		strategy: strategy,
		logger:   logger.WithField("component", "conflict_detector"),
		now:      time.Now,
	}
}

// Detection is the outcome of pairing local and remote delta sets.
type Detection struct {
	// ToApply are remote-origin deltas with no competing local change.
	ToApply []models.DeltaData

	// ToPush are local-origin deltas with no competing remote change.
	ToPush []models.DeltaData

	// Conflicts need resolution before either side proceeds.
	Conflicts []*models.ConflictRecord
}

// Detect classifies the two delta sets. Only the latest delta per key on
// each side participates in pairing. For uncontested keys and checksum-equal
// pairs the full per-entity history passes through in order; for a
// conflicting pair only the latest two deltas are recorded, since the
// resolver's synthetic delta supersedes anything earlier. Keys listed in
// repairs drop their local side so the remote copy can restore them.
func (d *Detector) Detect(local, remote []models.DeltaData, repairs []models.EntityKey) *Detection {
	repairSet := make(map[models.EntityKey]bool, len(repairs))
	for _, key := range repairs {
		repairSet[key] = true
	}

	localByKey := groupByKey(local)
	remoteByKey := groupByKey(remote)

	detection := &Detection{}

	// Remote-only keys pass straight through.
	for key, deltas := range remoteByKey {
		if _, ok := localByKey[key]; ok && !repairSet[key] {
			continue
		}
		detection.ToApply = append(detection.ToApply, deltas...)
	}

	for key, localDeltas := range localByKey {
		if repairSet[key] {
			continue
		}

		remoteDeltas, ok := remoteByKey[key]
		if !ok {
			detection.ToPush = append(detection.ToPush, localDeltas...)
			continue
		}

		latestLocal := localDeltas[len(localDeltas)-1]
		latestRemote := remoteDeltas[len(remoteDeltas)-1]

		if latestLocal.Checksum == latestRemote.Checksum {
			// Same content on both sides; the newer side wins but
			// there is nothing to fight over.
			if latestRemote.Timestamp.After(latestLocal.Timestamp) {
				detection.ToApply = append(detection.ToApply, remoteDeltas...)
			} else {
				detection.ToPush = append(detection.ToPush, localDeltas...)
			}
			continue
		}

		record := d.classify(key, latestLocal, latestRemote)
		detection.Conflicts = append(detection.Conflicts, record)
	}

	models.SortDeltas(detection.ToApply)
	models.SortDeltas(detection.ToPush)
	sort.Slice(detection.Conflicts, func(i, j int) bool {
		return detection.Conflicts[i].Key().String() < detection.Conflicts[j].Key().String()
	})

	d.logger.WithFields(map[string]interface{}{
		"to_apply":  len(detection.ToApply),
		"to_push":   len(detection.ToPush),
		"conflicts": len(detection.Conflicts),
	}).Debug("Classified delta sets")

	return detection
}

// classify builds a conflict record for a diverging pair.
func (d *Detector) classify(key models.EntityKey, local, remote models.DeltaData) *models.ConflictRecord {
	// A remote version running ahead of the local one is the ordinary
	// shape of concurrent editing and classifies by content; the version
	// kind is reserved for a local line that advanced past the remote.
	kind := models.ConflictContent
	switch {
	case key.Type == models.EntityDocument && local.Version > remote.Version:
		kind = models.ConflictVersion
	case absDuration(local.Timestamp.Sub(remote.Timestamp)) < d.window:
		kind = models.ConflictTimestamp
	}

	detectedAt := d.now()
	return &models.ConflictRecord{
		ID:             fmt.Sprintf("cf-%s-%s-%d", key.Type, key.ID, detectedAt.UnixNano()),
		EntityType:     key.Type,
		RecordID:       key.ID,
		Kind:           kind,
		Local:          *local.Clone(),
		Remote:         *remote.Clone(),
		ConflictFields: diffFields(local.Data, remote.Data),
		Strategy:       d.strategy,
		Status:         models.ConflictPending,
		DetectedAt:     detectedAt,
	}
}

// groupByKey buckets deltas per entity, preserving timestamp order.
func groupByKey(deltas []models.DeltaData) map[models.EntityKey][]models.DeltaData {
	grouped := make(map[models.EntityKey][]models.DeltaData)
	for _, delta := range deltas {
		grouped[delta.Key()] = append(grouped[delta.Key()], delta)
	}
	for key := range grouped {
		models.SortDeltas(grouped[key])
	}
	return grouped
}

// diffFields lists top-level object fields whose values differ.
func diffFields(local, remote json.RawMessage) []string {
	var localObj, remoteObj map[string]json.RawMessage
	if json.Unmarshal(local, &localObj) != nil || json.Unmarshal(remote, &remoteObj) != nil {
		return nil
	}

	seen := make(map[string]bool)
	var fields []string
	for name, localVal := range localObj {
		seen[name] = true
		remoteVal, ok := remoteObj[name]
		if !ok || !jsonEqual(localVal, remoteVal) {
			fields = append(fields, name)
		}
	}
	for name := range remoteObj {
		if !seen[name] {
			fields = append(fields, name)
		}
	}

	sort.Strings(fields)
	return fields
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	return deepEqualJSON(av, bv)
}

func deepEqualJSON(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

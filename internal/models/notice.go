package models

import "time"

// ChangeNotice is a server push announcing that remote deltas exist past
// the given timestamp. Notices only trigger a sync; the deltas themselves
// arrive through the fetch path.
type ChangeNotice struct {
	Since time.Time `json:"since"`
	Count int       `json:"count,omitempty"`
}

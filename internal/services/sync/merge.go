package sync

import (
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/pagesmith/pagesync/internal/models"
)

// mergeFields combines local and remote payloads using the entity-type
// rules. Each entity type has its own handler so adding a type forces a
// decision here rather than falling through string-keyed branching.
func mergeFields(entityType models.EntityType, local, remote json.RawMessage) (json.RawMessage, error) {
	localObj, err := decodeObject(local)
	if err != nil {
		return nil, fmt.Errorf("parse local payload: %w", err)
	}
	remoteObj, err := decodeObject(remote)
	if err != nil {
		return nil, fmt.Errorf("parse remote payload: %w", err)
	}

	var merged map[string]interface{}
	switch entityType {
	case models.EntityDocument:
		merged = mergeDocument(localObj, remoteObj)
	case models.EntityMedia:
		merged = mergeMedia(localObj, remoteObj)
	case models.EntityConfig:
		merged = mergeGeneric(localObj, remoteObj)
	default:
		return nil, fmt.Errorf("no merge handler for entity type %q", entityType)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("serialize merged payload: %w", err)
	}
	return data, nil
}

// mergeDocument applies document field rules: title and content keep the
// longer text, tags become the set union, and published status sticks.
func mergeDocument(local, remote map[string]interface{}) map[string]interface{} {
	merged := mergeGeneric(local, remote)

	for _, field := range []string{"title", "content"} {
		if val := longerString(local[field], remote[field]); val != nil {
			merged[field] = val
		}
	}

	if union := tagUnion(local["tags"], remote["tags"]); union != nil {
		merged["tags"] = union
	}

	localStatus, _ := local["status"].(string)
	remoteStatus, _ := remote["status"].(string)
	switch {
	case localStatus == "published" || remoteStatus == "published":
		merged["status"] = "published"
	case remoteStatus != "":
		merged["status"] = remoteStatus
	}

	return merged
}

// mergeMedia applies media field rules: the filename stays local because
// identifiers must remain stable, descriptive text keeps the longer value,
// and tags become the set union.
func mergeMedia(local, remote map[string]interface{}) map[string]interface{} {
	merged := mergeGeneric(local, remote)

	if filename, ok := local["filename"]; ok {
		merged["filename"] = filename
	}

	for _, field := range []string{"alt", "description"} {
		if val := longerString(local[field], remote[field]); val != nil {
			merged[field] = val
		}
	}

	if union := tagUnion(local["tags"], remote["tags"]); union != nil {
		merged["tags"] = union
	}

	return merged
}

// mergeGeneric resolves each field independently: prefer the non-empty
// value; between two non-empty values of the same primitive type prefer
// the more detailed one; otherwise prefer remote.
func mergeGeneric(local, remote map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(local)+len(remote))

	for name, localVal := range local {
		remoteVal, inRemote := remote[name]
		if !inRemote {
			merged[name] = localVal
			continue
		}
		merged[name] = preferDetailed(localVal, remoteVal)
	}
	for name, remoteVal := range remote {
		if _, inLocal := local[name]; !inLocal {
			merged[name] = remoteVal
		}
	}

	return merged
}

// preferDetailed picks one of two field values per the generic fallback
// rules.
func preferDetailed(local, remote interface{}) interface{} {
	if isEmptyValue(remote) {
		return local
	}
	if isEmptyValue(local) {
		return remote
	}

	switch localVal := local.(type) {
	case string:
		if remoteVal, ok := remote.(string); ok {
			if textLength(localVal) > textLength(remoteVal) {
				return localVal
			}
			return remoteVal
		}
	case []interface{}:
		if remoteVal, ok := remote.([]interface{}); ok {
			return arrayUnion(localVal, remoteVal)
		}
	}

	return remote
}

// longerString keeps the longer of two string values, remote winning ties.
// Strings are NFC-normalized before comparison so combining characters do
// not inflate lengths.
func longerString(local, remote interface{}) interface{} {
	localStr, localOK := local.(string)
	remoteStr, remoteOK := remote.(string)

	switch {
	case !localOK && !remoteOK:
		if remote != nil {
			return remote
		}
		return local
	case !remoteOK:
		return localStr
	case !localOK:
		return remoteStr
	}

	if textLength(localStr) > textLength(remoteStr) {
		return localStr
	}
	return remoteStr
}

// tagUnion returns the order-independent set union of two tag arrays, or
// nil when neither side has tags.
func tagUnion(local, remote interface{}) []interface{} {
	localArr, localOK := local.([]interface{})
	remoteArr, remoteOK := remote.([]interface{})
	if !localOK && !remoteOK {
		return nil
	}
	return arrayUnion(localArr, remoteArr)
}

// arrayUnion merges two arrays without duplicates. The result is sorted by
// the canonical encoding of each element so union order never depends on
// input order.
func arrayUnion(a, b []interface{}) []interface{} {
	seen := make(map[string]bool, len(a)+len(b))
	union := make([]interface{}, 0, len(a)+len(b))

	for _, arr := range [][]interface{}{a, b} {
		for _, elem := range arr {
			key, err := json.Marshal(elem)
			if err != nil {
				continue
			}
			if !seen[string(key)] {
				seen[string(key)] = true
				union = append(union, elem)
			}
		}
	}

	sort.Slice(union, func(i, j int) bool {
		ki, _ := json.Marshal(union[i])
		kj, _ := json.Marshal(union[j])
		return string(ki) < string(kj)
	})

	return union
}

func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = map[string]interface{}{}
	}
	return obj, nil
}

func isEmptyValue(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	}
	return false
}

// textLength measures a string in NFC-normalized runes.
func textLength(s string) int {
	return len([]rune(norm.NFC.String(s)))
}

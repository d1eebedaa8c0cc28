// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import (
	"fmt"
	"sort"

	"github.com/sipeed/picoswarm/pkg/crdt"
)

// MergeAs combines the values of versions under the given kind:
//
//   - counters sum numeric values (or merge counter replicas),
//   - sets take the union (or merge OR-set replicas),
//   - maps merge key by key, keeping each key's latest write,
//   - registers keep the latest write.
//
// Replica values from package crdt are merged with crdt.MergeAs.
func MergeAs(kind crdt.Kind, versions []StateVersion) (any, error) {
	if len(versions) == 0 {
		return nil, ErrNoVersions
	}

	if merged, ok, err := mergeReplicas(kind, versions); ok || err != nil {
		return merged, err
	}

	switch {
	case kind.IsCounter():
		return sumValues(versions)
	case kind == crdt.KindORSet:
		return unionValues(versions)
	case kind == crdt.KindMap:
		return mergeMaps(versions)
	case kind == crdt.KindLWWRegister:
		return latest(versions).Value, nil
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnsupportedValue, kind)
}

// mergeReplicas handles versions whose values are crdt replicas. ok is
// false when the values are plain data.
func mergeReplicas(kind crdt.Kind, versions []StateVersion) (any, bool, error) {
	first, isReplica := versions[0].Value.(crdt.Replica)
	if !isReplica {
		return nil, false, nil
	}

	acc := first
	for _, v := range versions[1:] {
		r, ok := v.Value.(crdt.Replica)
		if !ok {
			return nil, true, fmt.Errorf("%w: mixed replica and plain values", ErrUnsupportedValue)
		}
		merged, err := crdt.MergeAs(kind, acc, r)
		if err != nil {
			return nil, true, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		acc = merged
	}
	return acc, true, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func sumValues(versions []StateVersion) (any, error) {
	var total float64
	allInt := true
	for _, v := range versions {
		n, ok := toFloat(v.Value)
		if !ok {
			return nil, fmt.Errorf("%w: counter value %T", ErrUnsupportedValue, v.Value)
		}
		if _, isFloat := v.Value.(float64); isFloat {
			allInt = false
		}
		if _, isFloat := v.Value.(float32); isFloat {
			allInt = false
		}
		total += n
	}
	if allInt {
		return int64(total), nil
	}
	return total, nil
}

func unionValues(versions []StateVersion) (any, error) {
	allStrings := true
	seen := make(map[string]any)

	for _, v := range versions {
		switch items := v.Value.(type) {
		case []string:
			for _, s := range items {
				seen[s] = s
			}
		case []any:
			for _, it := range items {
				if _, ok := it.(string); !ok {
					allStrings = false
				}
				seen[fmt.Sprint(it)] = it
			}
		case nil:
		default:
			return nil, fmt.Errorf("%w: set value %T", ErrUnsupportedValue, v.Value)
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if allStrings {
		return keys, nil
	}
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out, nil
}

func mapEntries(v StateVersion) (map[string]MapEntry, error) {
	switch m := v.Value.(type) {
	case map[string]MapEntry:
		return m, nil
	case map[string]any:
		out := make(map[string]MapEntry, len(m))
		for k, val := range m {
			out[k] = MapEntry{Value: val, Timestamp: v.Timestamp, AgentID: v.AgentID}
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: map value %T", ErrUnsupportedValue, v.Value)
}

func newerEntry(a, b MapEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.AgentID != b.AgentID {
		return a.AgentID > b.AgentID
	}
	return fmt.Sprint(a.Value) > fmt.Sprint(b.Value)
}

// mergeMaps keeps, per key, the entry with the latest timestamp. Each key
// is decided independently, so distinct keys from different agents all
// survive.
func mergeMaps(versions []StateVersion) (any, error) {
	out := make(map[string]MapEntry)
	for _, v := range versions {
		entries, err := mapEntries(v)
		if err != nil {
			return nil, err
		}
		for k, e := range entries {
			cur, ok := out[k]
			if !ok || newerEntry(e, cur) {
				out[k] = e
			}
		}
	}
	return out, nil
}

// newer reports whether a beats b under last-write-wins: timestamp, then
// version number, then agent id.
func newer(a, b StateVersion) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.AgentID > b.AgentID
}

func latest(versions []StateVersion) StateVersion {
	best := versions[0]
	for _, v := range versions[1:] {
		if newer(v, best) {
			best = v
		}
	}
	return best
}

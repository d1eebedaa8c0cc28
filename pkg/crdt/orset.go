// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type tagSet map[string]struct{}

// ORSet is an observed-remove set. Every Add mints a unique tag; Remove
// tombstones only the tags it has observed, so a concurrent Add survives.
type ORSet struct {
	mu         sync.RWMutex
	nodeID     string
	entries    map[string]tagSet
	tombstones tagSet
	newTag     func() string
}

// NewORSet creates an empty set owned by nodeID.
func NewORSet(nodeID string) *ORSet {
	return &ORSet{
		nodeID:     nodeID,
		entries:    make(map[string]tagSet),
		tombstones: make(tagSet),
		newTag:     uuid.NewString,
	}
}

func (s *ORSet) Kind() Kind { return KindORSet }

// NodeID returns the owning agent identity.
func (s *ORSet) NodeID() string { return s.nodeID }

// Add inserts element under a fresh tag and returns the tag.
func (s *ORSet) Add(element string) string {
	tag := s.nodeID + ":" + s.newTag()

	s.mu.Lock()
	defer s.mu.Unlock()
	tags, ok := s.entries[element]
	if !ok {
		tags = make(tagSet)
		s.entries[element] = tags
	}
	tags[tag] = struct{}{}
	return tag
}

// Remove tombstones every currently visible tag of element. It reports
// whether the element was present.
func (s *ORSet) Remove(element string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for tag := range s.entries[element] {
		if _, dead := s.tombstones[tag]; !dead {
			s.tombstones[tag] = struct{}{}
			removed = true
		}
	}
	return removed
}

// Contains reports whether element has at least one live tag.
func (s *ORSet) Contains(element string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveLocked(element)
}

func (s *ORSet) liveLocked(element string) bool {
	for tag := range s.entries[element] {
		if _, dead := s.tombstones[tag]; !dead {
			return true
		}
	}
	return false
}

// Elements returns the live elements in sorted order.
func (s *ORSet) Elements() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for elem := range s.entries {
		if s.liveLocked(elem) {
			out = append(out, elem)
		}
	}
	slices.Sort(out)
	return out
}

// Len returns the number of live elements.
func (s *ORSet) Len() int {
	return len(s.Elements())
}

func (s *ORSet) snapshot() (map[string]tagSet, tagSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make(map[string]tagSet, len(s.entries))
	for elem, tags := range s.entries {
		entries[elem] = maps.Clone(tags)
	}
	return entries, maps.Clone(s.tombstones)
}

// Merge returns a new set with the union of both sides' tags and
// tombstones.
func (s *ORSet) Merge(other *ORSet) *ORSet {
	entries, tombstones := s.snapshot()
	theirEntries, theirTombstones := other.snapshot()

	for elem, tags := range theirEntries {
		mine, ok := entries[elem]
		if !ok {
			entries[elem] = tags
			continue
		}
		maps.Copy(mine, tags)
	}
	maps.Copy(tombstones, theirTombstones)

	return &ORSet{
		nodeID:     s.nodeID,
		entries:    entries,
		tombstones: tombstones,
		newTag:     s.newTag,
	}
}

// Equal compares the full tag state, not just visible membership.
func (s *ORSet) Equal(other *ORSet) bool {
	a, at := s.snapshot()
	b, bt := other.snapshot()
	if !maps.Equal(at, bt) || len(a) != len(b) {
		return false
	}
	for elem, tags := range a {
		theirs, ok := b[elem]
		if !ok || !maps.Equal(tags, theirs) {
			return false
		}
	}
	return true
}

type orsetJSON struct {
	NodeID     string              `json:"node_id"`
	Entries    map[string][]string `json:"entries"`
	Tombstones []string            `json:"tombstones"`
}

func sortedTags(tags tagSet) []string {
	return slices.Sorted(maps.Keys(tags))
}

func (s *ORSet) MarshalJSON() ([]byte, error) {
	entries, tombstones := s.snapshot()
	raw := orsetJSON{
		NodeID:     s.nodeID,
		Entries:    make(map[string][]string, len(entries)),
		Tombstones: sortedTags(tombstones),
	}
	for elem, tags := range entries {
		raw.Entries[elem] = sortedTags(tags)
	}
	return json.Marshal(raw)
}

func (s *ORSet) UnmarshalJSON(b []byte) error {
	var raw orsetJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	entries := make(map[string]tagSet, len(raw.Entries))
	for elem, tags := range raw.Entries {
		set := make(tagSet, len(tags))
		for _, t := range tags {
			set[t] = struct{}{}
		}
		entries[elem] = set
	}
	tombstones := make(tagSet, len(raw.Tombstones))
	for _, t := range raw.Tombstones {
		tombstones[t] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodeID, s.entries, s.tombstones = raw.NodeID, entries, tombstones
	if s.newTag == nil {
		s.newTag = uuid.NewString
	}
	return nil
}

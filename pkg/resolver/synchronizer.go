// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import (
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/sipeed/picoswarm/pkg/crdt"
	"github.com/sipeed/picoswarm/pkg/logger"
)

const defaultHistoryLimit = 256

// ResolutionRecord describes one conflict the synchronizer settled.
type ResolutionRecord struct {
	Key        string    `json:"key"`
	LocalAgent string    `json:"local_agent"`
	Remote     string    `json:"remote_agent"`
	Winner     string    `json:"winner"`
	Strategy   string    `json:"strategy"`
	Fallback   bool      `json:"fallback"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// SyncStats summarizes synchronizer activity.
type SyncStats struct {
	Keys       int `json:"keys"`
	Applied    int `json:"applied"`
	Adopted    int `json:"adopted"`
	Unchanged  int `json:"unchanged"`
	Conflicts  int `json:"conflicts"`
	Fallbacks  int `json:"fallbacks"`
	LocalWrite int `json:"local_writes"`
}

// Synchronizer owns one agent's replica of the shared key space. Local
// writes advance the agent's version and vector clock; remote versions are
// reconciled through the resolver.
type Synchronizer struct {
	mu       sync.Mutex
	agentID  string
	resolver *Resolver
	state    map[string]StateVersion
	seen     map[string]map[string]int64 // key -> agent -> highest version applied
	history  []ResolutionRecord
	limit    int
	stats    SyncStats
	now      func() time.Time
}

// NewSynchronizer creates a synchronizer for agentID. historyLimit bounds
// the resolution history; zero selects a default.
func NewSynchronizer(agentID string, r *Resolver, historyLimit int) *Synchronizer {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Synchronizer{
		agentID:  agentID,
		resolver: r,
		state:    make(map[string]StateVersion),
		seen:     make(map[string]map[string]int64),
		limit:    historyLimit,
		now:      time.Now,
	}
}

// Update records a local write and returns the new version for
// distribution to peers.
func (s *Synchronizer) Update(key string, value any, kind crdt.Kind) StateVersion {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state[key]
	v := StateVersion{
		Key:         key,
		Value:       value,
		Version:     prev.Version + 1,
		Timestamp:   s.now().Round(0),
		AgentID:     s.agentID,
		VectorClock: prev.VectorClock.Tick(s.agentID),
		Kind:        kind,
	}
	s.state[key] = v
	s.stats.LocalWrite++
	return v
}

// Apply reconciles incoming versions with the local replica and returns
// the keys whose value changed.
func (s *Synchronizer) Apply(incoming ...StateVersion) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, in := range incoming {
		s.stats.Applied++

		local, ok := s.state[in.Key]
		if !ok {
			s.state[in.Key] = in
			s.markSeen(in)
			s.stats.Adopted++
			changed = append(changed, in.Key)
			continue
		}
		if s.alreadyApplied(local, in) {
			s.stats.Unchanged++
			continue
		}

		winner, err := s.resolver.Resolve(in.Key, []StateVersion{local, in})
		if err != nil {
			return changed, err
		}
		winner.VectorClock = local.VectorClock.Merge(in.VectorClock).Merge(winner.VectorClock)

		s.stats.Conflicts++
		if winner.Fallback() {
			s.stats.Fallbacks++
		}
		s.record(ResolutionRecord{
			Key:        in.Key,
			LocalAgent: local.AgentID,
			Remote:     in.AgentID,
			Winner:     winner.AgentID,
			Strategy:   s.resolver.Strategy().String(),
			Fallback:   winner.Fallback(),
			ResolvedAt: s.now(),
		})

		if !reflect.DeepEqual(winner.Value, local.Value) {
			changed = append(changed, in.Key)
		}
		s.state[in.Key] = winner
		s.markSeen(in)
	}

	if len(changed) > 0 {
		logger.DebugCF("resolver", "Applied remote state", map[string]any{
			"agent_id": s.agentID,
			"changed":  len(changed),
		})
	}
	return changed, nil
}

// alreadyApplied reports whether in has been folded into local before.
// Redelivered CRDT counters would otherwise be summed twice.
func (s *Synchronizer) alreadyApplied(local, in StateVersion) bool {
	if local.Version == in.Version && local.AgentID == in.AgentID && reflect.DeepEqual(local.Value, in.Value) {
		return true
	}
	if len(in.VectorClock) > 0 {
		return local.VectorClock.Dominates(in.VectorClock)
	}
	top, ok := s.seen[in.Key][in.AgentID]
	return ok && in.Version <= top
}

func (s *Synchronizer) markSeen(in StateVersion) {
	byAgent, ok := s.seen[in.Key]
	if !ok {
		byAgent = make(map[string]int64)
		s.seen[in.Key] = byAgent
	}
	if top, ok := byAgent[in.AgentID]; !ok || in.Version > top {
		byAgent[in.AgentID] = in.Version
	}
}

func (s *Synchronizer) record(r ResolutionRecord) {
	s.history = append(s.history, r)
	if over := len(s.history) - s.limit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
}

// Get returns the local version of key.
func (s *Synchronizer) Get(key string) (StateVersion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Snapshot returns a copy of the replica, suitable for DetectConflicts.
func (s *Synchronizer) Snapshot() map[string]StateVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state)
}

// History returns the retained resolution records, oldest first.
func (s *Synchronizer) History() []ResolutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Stats returns activity counters.
func (s *Synchronizer) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Keys = len(s.state)
	return st
}

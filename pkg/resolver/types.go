// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import (
	"time"

	"github.com/sipeed/picoswarm/pkg/crdt"
)

// Strategy selects how divergent versions are reconciled.
type Strategy int

const (
	StrategyLWW Strategy = iota
	StrategyVectorClock
	StrategyCRDT
)

func (s Strategy) String() string {
	switch s {
	case StrategyLWW:
		return "lww"
	case StrategyVectorClock:
		return "vector_clock"
	case StrategyCRDT:
		return "crdt"
	default:
		return "unknown"
	}
}

// Metadata keys set on resolved versions.
const (
	MetaStrategy   = "strategy"
	MetaDiscarded  = "discarded"
	MetaFallback   = "fallback"
	MetaMergedFrom = "merged_from"
)

// StateVersion is one agent's view of a shared key.
type StateVersion struct {
	Key         string         `json:"key"`
	Value       any            `json:"value"`
	Version     int64          `json:"version"`
	Timestamp   time.Time      `json:"timestamp"`
	AgentID     string         `json:"agent_id"`
	VectorClock VectorClock    `json:"vector_clock,omitempty"`
	Kind        crdt.Kind      `json:"crdt_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Fallback reports whether the version was chosen by the LWW fallback of
// another strategy.
func (v StateVersion) Fallback() bool {
	f, _ := v.Metadata[MetaFallback].(string)
	return f != ""
}

// MapEntry is one key of a map-typed value with its own write time.
type MapEntry struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id,omitempty"`
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// GCounter is a grow-only counter. Each agent owns one slot and only ever
// increases it; the value is the sum of all slots.
type GCounter struct {
	mu     sync.RWMutex
	nodeID string
	counts map[string]int64
}

// NewGCounter creates an empty counter owned by nodeID.
func NewGCounter(nodeID string) *GCounter {
	return &GCounter{
		nodeID: nodeID,
		counts: make(map[string]int64),
	}
}

func (c *GCounter) Kind() Kind { return KindGCounter }

// NodeID returns the owning agent identity.
func (c *GCounter) NodeID() string { return c.nodeID }

// Increment adds delta to this agent's slot.
func (c *GCounter) Increment(delta int64) error {
	if delta <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidDelta, delta)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[c.nodeID] += delta
	return nil
}

// Value returns the sum over all agents.
func (c *GCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, n := range c.counts {
		total += n
	}
	return total
}

// Counts returns a copy of the per-agent slots.
func (c *GCounter) Counts() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.counts)
}

// Merge returns a new counter holding the element-wise maximum of both
// counters. The result is owned by the receiver's agent.
func (c *GCounter) Merge(other *GCounter) *GCounter {
	mine := c.Counts()
	theirs := other.Counts()

	for id, n := range theirs {
		if n > mine[id] {
			mine[id] = n
		}
	}
	return &GCounter{nodeID: c.nodeID, counts: mine}
}

// Equal reports whether both counters hold the same slots. Ownership is
// not compared.
func (c *GCounter) Equal(other *GCounter) bool {
	return maps.Equal(c.Counts(), other.Counts())
}

type gcounterJSON struct {
	NodeID string           `json:"node_id"`
	Counts map[string]int64 `json:"counts"`
}

func (c *GCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(gcounterJSON{NodeID: c.nodeID, Counts: c.Counts()})
}

func (c *GCounter) UnmarshalJSON(b []byte) error {
	var raw gcounterJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodeID = raw.NodeID
	c.counts = raw.Counts
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	return nil
}

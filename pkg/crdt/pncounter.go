// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"encoding/json"
	"sync"
)

// PNCounter supports both increments and decrements by pairing two
// grow-only counters.
type PNCounter struct {
	mu  sync.RWMutex
	pos *GCounter
	neg *GCounter
}

// NewPNCounter creates an empty counter owned by nodeID.
func NewPNCounter(nodeID string) *PNCounter {
	return &PNCounter{
		pos: NewGCounter(nodeID),
		neg: NewGCounter(nodeID),
	}
}

func (c *PNCounter) Kind() Kind { return KindPNCounter }

// NodeID returns the owning agent identity.
func (c *PNCounter) NodeID() string { return c.pos.NodeID() }

// Increment adds delta.
func (c *PNCounter) Increment(delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos.Increment(delta)
}

// Decrement subtracts delta. delta itself must be positive.
func (c *PNCounter) Decrement(delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.neg.Increment(delta)
}

// Value returns increments minus decrements.
func (c *PNCounter) Value() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pos.Value() - c.neg.Value()
}

func (c *PNCounter) halves() (*GCounter, *GCounter) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &GCounter{nodeID: c.pos.nodeID, counts: c.pos.Counts()},
		&GCounter{nodeID: c.neg.nodeID, counts: c.neg.Counts()}
}

// Merge merges the increment and decrement halves independently.
func (c *PNCounter) Merge(other *PNCounter) *PNCounter {
	myPos, myNeg := c.halves()
	theirPos, theirNeg := other.halves()
	return &PNCounter{
		pos: myPos.Merge(theirPos),
		neg: myNeg.Merge(theirNeg),
	}
}

// Equal reports whether both halves hold the same slots.
func (c *PNCounter) Equal(other *PNCounter) bool {
	myPos, myNeg := c.halves()
	theirPos, theirNeg := other.halves()
	return myPos.Equal(theirPos) && myNeg.Equal(theirNeg)
}

type pncounterJSON struct {
	Positive *GCounter `json:"positive"`
	Negative *GCounter `json:"negative"`
}

func (c *PNCounter) MarshalJSON() ([]byte, error) {
	pos, neg := c.halves()
	return json.Marshal(pncounterJSON{Positive: pos, Negative: neg})
}

func (c *PNCounter) UnmarshalJSON(b []byte) error {
	raw := pncounterJSON{Positive: NewGCounter(""), Negative: NewGCounter("")}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos, c.neg = raw.Positive, raw.Negative
	return nil
}

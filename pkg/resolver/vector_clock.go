// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import "maps"

// Ordering is the causal relation between two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// VectorClock maps agent ids to event counts. A component that is absent
// counts as zero, so an agent that joins mid-session compares cleanly
// against older clocks.
type VectorClock map[string]uint64

// Clone returns an independent copy. A nil clock clones to an empty one.
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return VectorClock{}
	}
	return maps.Clone(vc)
}

// Tick returns a copy with agent's component advanced by one.
func (vc VectorClock) Tick(agent string) VectorClock {
	next := vc.Clone()
	next[agent]++
	return next
}

// Merge returns the component-wise maximum of both clocks.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for agent, n := range other {
		if n > out[agent] {
			out[agent] = n
		}
	}
	return out
}

// Compare reports how vc relates to other.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	less, greater := false, false

	for agent, n := range vc {
		switch m := other[agent]; {
		case n > m:
			greater = true
		case n < m:
			less = true
		}
	}
	for agent, m := range other {
		if _, seen := vc[agent]; !seen && m > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return Concurrent
	case greater:
		return After
	case less:
		return Before
	default:
		return Equal
	}
}

// Dominates reports whether vc is causally after or equal to other.
func (vc VectorClock) Dominates(other VectorClock) bool {
	o := vc.Compare(other)
	return o == After || o == Equal
}

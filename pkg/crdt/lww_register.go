// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// LWWRegister holds a single value; concurrent writes converge on the one
// with the latest wall-clock timestamp.
type LWWRegister struct {
	mu        sync.RWMutex
	nodeID    string
	value     any
	timestamp time.Time
	writer    string
	now       func() time.Time
}

// NewLWWRegister creates an empty register owned by nodeID.
func NewLWWRegister(nodeID string) *LWWRegister {
	return &LWWRegister{nodeID: nodeID, now: time.Now}
}

func (r *LWWRegister) Kind() Kind { return KindLWWRegister }

// NodeID returns the owning agent identity.
func (r *LWWRegister) NodeID() string { return r.nodeID }

// Set stores value stamped with the current time and this agent as writer.
func (r *LWWRegister) Set(value any) {
	r.SetAt(value, r.now())
}

// SetAt stores value with an explicit timestamp.
func (r *LWWRegister) SetAt(value any, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value = value
	// Drop the monotonic reading so comparisons use wall clock only.
	r.timestamp = ts.Round(0)
	r.writer = r.nodeID
}

// Get returns the current value.
func (r *LWWRegister) Get() any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Timestamp returns when the current value was written.
func (r *LWWRegister) Timestamp() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.timestamp
}

// Writer returns the agent that wrote the current value.
func (r *LWWRegister) Writer() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writer
}

type lwwState struct {
	value     any
	timestamp time.Time
	writer    string
}

func (r *LWWRegister) state() lwwState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lwwState{value: r.value, timestamp: r.timestamp, writer: r.writer}
}

// wins reports whether a should be kept over b.
func (a lwwState) wins(b lwwState) bool {
	if !a.timestamp.Equal(b.timestamp) {
		return a.timestamp.After(b.timestamp)
	}
	if a.writer != b.writer {
		return a.writer > b.writer
	}
	// Same writer at the same instant: order by rendered value so both
	// merge directions agree.
	return fmt.Sprint(a.value) >= fmt.Sprint(b.value)
}

// Merge returns a new register holding the later write. Equal timestamps
// are broken by the lexicographically larger writer identity.
func (r *LWWRegister) Merge(other *LWWRegister) *LWWRegister {
	mine, theirs := r.state(), other.state()
	keep := mine
	if !mine.wins(theirs) {
		keep = theirs
	}
	return &LWWRegister{
		nodeID:    r.nodeID,
		value:     keep.value,
		timestamp: keep.timestamp,
		writer:    keep.writer,
		now:       r.now,
	}
}

// Equal compares value, timestamp and writer.
func (r *LWWRegister) Equal(other *LWWRegister) bool {
	a, b := r.state(), other.state()
	return a.timestamp.Equal(b.timestamp) && a.writer == b.writer && reflect.DeepEqual(a.value, b.value)
}

type lwwJSON struct {
	NodeID    string    `json:"node_id"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Writer    string    `json:"writer"`
}

func (r *LWWRegister) MarshalJSON() ([]byte, error) {
	s := r.state()
	return json.Marshal(lwwJSON{NodeID: r.nodeID, Value: s.value, Timestamp: s.timestamp, Writer: s.writer})
}

func (r *LWWRegister) UnmarshalJSON(b []byte) error {
	var raw lwwJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodeID, r.value, r.timestamp, r.writer = raw.NodeID, raw.Value, raw.Timestamp, raw.Writer
	if r.now == nil {
		r.now = time.Now
	}
	return nil
}

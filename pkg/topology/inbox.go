// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import (
	"slices"
	"sync"
	"time"
)

// Inbox is an agent's FIFO message queue. All access goes through its
// methods.
type Inbox struct {
	mu    sync.Mutex
	items []Envelope
}

func newInbox() *Inbox {
	return &Inbox{}
}

func (in *Inbox) push(e Envelope) {
	in.mu.Lock()
	in.items = append(in.items, e)
	in.mu.Unlock()
}

// Drain removes and returns every queued message, oldest first.
func (in *Inbox) Drain() []Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.items
	in.items = nil
	return out
}

// Pop removes and returns the oldest message.
func (in *Inbox) Pop() (Envelope, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.items) == 0 {
		return Envelope{}, false
	}
	e := in.items[0]
	in.items = slices.Delete(in.items, 0, 1)
	return e, true
}

// Peek returns the oldest message without removing it.
func (in *Inbox) Peek() (Envelope, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.items) == 0 {
		return Envelope{}, false
	}
	return in.items[0], true
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// History is an append-only log of delivered envelopes.
type History struct {
	mu      sync.RWMutex
	entries []Envelope
}

func newHistory() *History {
	return &History{}
}

func (h *History) append(es ...Envelope) {
	h.mu.Lock()
	h.entries = append(h.entries, es...)
	h.mu.Unlock()
}

// Len returns the number of logged envelopes.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// All returns a copy of the log in delivery order.
func (h *History) All() []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.entries)
}

// Since returns envelopes stamped at or after t.
func (h *History) Since(t time.Time) []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Envelope
	for _, e := range h.entries {
		if !e.Timestamp.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Involving returns envelopes sent or received by agentID.
func (h *History) Involving(agentID string) []Envelope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []Envelope
	for _, e := range h.entries {
		if e.From == agentID || e.To == agentID {
			out = append(out, e)
		}
	}
	return out
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/sipeed/picoswarm/pkg/logger"
)

const starKind = "star"

// LoadLevel classifies the hub's pending inbox size.
type LoadLevel string

const (
	LoadLow      LoadLevel = "low"
	LoadMedium   LoadLevel = "medium"
	LoadHigh     LoadLevel = "high"
	LoadCritical LoadLevel = "critical"
)

// Hub load breakpoints, in pending messages.
const (
	loadMediumAt   = 10
	loadHighAt     = 50
	loadCriticalAt = 100
)

// ClassifyLoad maps a pending message count to a LoadLevel.
func ClassifyLoad(pending int) LoadLevel {
	switch {
	case pending < loadMediumAt:
		return LoadLow
	case pending < loadHighAt:
		return LoadMedium
	case pending < loadCriticalAt:
		return LoadHigh
	default:
		return LoadCritical
	}
}

// Star is a hub-and-spoke topology. Spokes only talk to the hub.
type Star struct {
	hubID string

	mu      sync.RWMutex
	agents  map[string]*Agent
	inboxes map[string]*Inbox
	history *History
	opts    options
}

// NewStar creates a star whose hub is registered immediately.
func NewStar(hubID, hubType string, opts ...Option) *Star {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	s := &Star{
		hubID:   hubID,
		agents:  make(map[string]*Agent),
		inboxes: make(map[string]*Inbox),
		history: newHistory(),
		opts:    o,
	}
	s.agents[hubID] = &Agent{ID: hubID, Type: hubType, Status: StatusIdle, JoinedAt: o.now()}
	s.inboxes[hubID] = newInbox()
	return s
}

// HubID returns the id of the hub.
func (s *Star) HubID() string {
	return s.hubID
}

// AddAgent registers a spoke.
func (s *Star) AddAgent(id, agentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}
	s.agents[id] = &Agent{ID: id, Type: agentType, Status: StatusIdle, Metadata: maps.Clone(metadata), JoinedAt: s.opts.now()}
	s.inboxes[id] = newInbox()

	logger.InfoCF("topology", "Spoke joined star", map[string]any{
		"agent_id": id,
		"type":     agentType,
		"hub":      s.hubID,
	})
	return nil
}

// RemoveAgent unregisters a spoke. The hub cannot be removed.
func (s *Star) RemoveAgent(id string) error {
	if id == s.hubID {
		return fmt.Errorf("%w: %s", ErrHubRemoval, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	delete(s.agents, id)
	delete(s.inboxes, id)

	logger.InfoCF("topology", "Spoke left star", map[string]any{"agent_id": id})
	return nil
}

// Agent returns a copy of the agent record.
func (s *Star) Agent(id string) (Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.clone(), true
}

// Spokes returns the sorted spoke ids.
func (s *Star) Spokes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spokesLocked()
}

func (s *Star) spokesLocked() []string {
	out := make([]string, 0, len(s.agents))
	for id := range s.agents {
		if id != s.hubID {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// UpdateStatus sets the work status of id.
func (s *Star) UpdateStatus(id string, status AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a.Status = status
	return nil
}

// Inbox returns id's inbox.
func (s *Star) Inbox(id string) (*Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.inboxes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return in, nil
}

// History returns the delivery log.
func (s *Star) History() *History {
	return s.history
}

// SendMessage routes between the hub and a spoke in either direction.
// Spoke to spoke is rejected with ErrNotConnected.
func (s *Star) SendMessage(from, to string, payload any) (Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deliverLocked(from, to, payload)
}

// HubToSpoke delivers payload from the hub into spoke's inbox.
func (s *Star) HubToSpoke(spoke string, payload any) (Envelope, error) {
	return s.SendMessage(s.hubID, spoke, payload)
}

// SpokeToHub delivers payload from spoke into the hub's inbox.
func (s *Star) SpokeToHub(spoke string, payload any) (Envelope, error) {
	return s.SendMessage(spoke, s.hubID, payload)
}

func (s *Star) deliverLocked(from, to string, payload any) (Envelope, error) {
	if _, ok := s.agents[from]; !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownAgent, from)
	}
	if _, ok := s.agents[to]; !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownAgent, to)
	}
	if from == to || (from != s.hubID && to != s.hubID) {
		return Envelope{}, fmt.Errorf("%w: %s -> %s", ErrNotConnected, from, to)
	}

	e := newEnvelope(from, to, payload, s.opts.now(), false)
	s.inboxes[to].push(e)
	s.history.append(e)
	s.opts.delivered(starKind, 1)
	return e, nil
}

// HubBroadcast delivers payload to every spoke not in exclude and returns
// the number of deliveries. Nothing is sent while broadcast is gated off.
func (s *Star) HubBroadcast(payload any, exclude ...string) int {
	if !s.opts.allowed(FeatureBroadcast) {
		logger.DebugCF("topology", "Hub broadcast suppressed", map[string]any{"hub": s.hubID})
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	at := s.opts.now()
	var sent []Envelope
	for _, spoke := range s.spokesLocked() {
		if slices.Contains(exclude, spoke) {
			continue
		}
		e := newEnvelope(s.hubID, spoke, payload, at, true)
		s.inboxes[spoke].push(e)
		sent = append(sent, e)
	}
	s.history.append(sent...)
	s.opts.delivered(starKind, len(sent))
	return len(sent)
}

// HubLoad classifies the number of messages waiting in the hub's inbox.
func (s *Star) HubLoad() LoadLevel {
	s.mu.RLock()
	in := s.inboxes[s.hubID]
	s.mu.RUnlock()

	level := ClassifyLoad(in.Len())
	if level == LoadCritical {
		logger.WarnCF("topology", "Hub inbox saturated", map[string]any{
			"hub":     s.hubID,
			"pending": in.Len(),
		})
	}
	return level
}

// Visualize renders the star as a tree under the hub.
func (s *Star) Visualize() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hub := s.agents[s.hubID]
	spokes := s.spokesLocked()

	var b strings.Builder
	fmt.Fprintf(&b, "Star topology (hub %s, %d spokes)\n", s.hubID, len(spokes))
	fmt.Fprintf(&b, "  [HUB] %s [%s/%s] inbox=%d\n", hub.ID, hub.Type, hub.Status, s.inboxes[s.hubID].Len())
	for i, id := range spokes {
		branch := "├──"
		if i == len(spokes)-1 {
			branch = "└──"
		}
		a := s.agents[id]
		fmt.Fprintf(&b, "    %s %s [%s/%s] inbox=%d\n", branch, id, a.Type, a.Status, s.inboxes[id].Len())
	}
	return b.String()
}

// Stats summarizes the star. Connectivity is measured against a complete
// graph, so a star with more than two members is always below 1.
func (s *Star) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Kind:         starKind,
		Agents:       len(s.agents),
		Connections:  len(s.agents) - 1,
		StatusCounts: make(map[AgentStatus]int),
		Messages:     s.history.Len(),
	}
	st.Connectivity = connectivity(st.Connections, st.Agents)
	for id, a := range s.agents {
		st.StatusCounts[a.Status]++
		st.Pending += s.inboxes[id].Len()
	}
	return st
}

var (
	_ Topology = (*Mesh)(nil)
	_ Topology = (*Star)(nil)
)

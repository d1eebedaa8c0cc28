// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sipeed/picoswarm/pkg/logger"
)

const meshKind = "mesh"

// Mesh is a fully connected topology: every agent links to every other.
// Links are stored as id adjacency sets; agent records live only in the
// agents table.
type Mesh struct {
	mu      sync.RWMutex
	agents  map[string]*Agent
	links   map[string]map[string]struct{}
	inboxes map[string]*Inbox
	history *History
	opts    options
}

// NewMesh creates an empty mesh.
func NewMesh(opts ...Option) *Mesh {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &Mesh{
		agents:  make(map[string]*Agent),
		links:   make(map[string]map[string]struct{}),
		inboxes: make(map[string]*Inbox),
		history: newHistory(),
		opts:    o,
	}
}

// AddAgent registers id and links it to every existing agent.
func (m *Mesh) AddAgent(id, agentType string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}

	peers := make(map[string]struct{}, len(m.agents))
	for other := range m.agents {
		peers[other] = struct{}{}
		m.links[other][id] = struct{}{}
	}

	a := &Agent{ID: id, Type: agentType, Status: StatusIdle, Metadata: maps.Clone(metadata), JoinedAt: m.opts.now()}
	m.agents[id] = a
	m.links[id] = peers
	m.inboxes[id] = newInbox()

	logger.InfoCF("topology", "Agent joined mesh", map[string]any{
		"agent_id":    id,
		"type":        agentType,
		"connections": len(peers),
	})
	return nil
}

// RemoveAgent unregisters id and retracts all of its links.
func (m *Mesh) RemoveAgent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers, ok := m.links[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	for peer := range peers {
		delete(m.links[peer], id)
	}
	delete(m.links, id)
	delete(m.agents, id)
	delete(m.inboxes, id)

	logger.InfoCF("topology", "Agent left mesh", map[string]any{
		"agent_id":  id,
		"retracted": len(peers),
	})
	return nil
}

// Agent returns a copy of the agent record.
func (m *Mesh) Agent(id string) (Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return Agent{}, false
	}
	return a.clone(), true
}

// Agents returns copies of all agents sorted by id.
func (m *Mesh) Agents() []Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.clone())
	}
	slices.SortFunc(out, func(a, b Agent) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// UpdateStatus sets the work status of id.
func (m *Mesh) UpdateStatus(id string, status AgentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid agent status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	a.Status = status
	return nil
}

// Connected reports whether a and b share a link.
func (m *Mesh) Connected(a, b string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.links[a][b]
	return ok
}

// Neighbors returns the sorted ids linked to id.
func (m *Mesh) Neighbors(id string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers, ok := m.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return sortedIDs(peers), nil
}

// ConnectionCount returns the number of undirected links.
func (m *Mesh) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edgesLocked()
}

func (m *Mesh) edgesLocked() int {
	total := 0
	for _, peers := range m.links {
		total += len(peers)
	}
	return total / 2
}

// Inbox returns id's inbox.
func (m *Mesh) Inbox(id string) (*Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.inboxes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return in, nil
}

// History returns the delivery log.
func (m *Mesh) History() *History {
	return m.history
}

// SendMessage delivers payload from one agent to a linked peer.
func (m *Mesh) SendMessage(from, to string, payload any) (Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.agents[from]; !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownAgent, from)
	}
	if _, ok := m.agents[to]; !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownAgent, to)
	}
	if _, ok := m.links[from][to]; !ok {
		return Envelope{}, fmt.Errorf("%w: %s -> %s", ErrNotConnected, from, to)
	}

	e := newEnvelope(from, to, payload, m.opts.now(), false)
	m.inboxes[to].push(e)
	m.history.append(e)
	m.opts.delivered(meshKind, 1)
	return e, nil
}

// Broadcast delivers payload to every neighbor of from except those in
// exclude, and returns the number of deliveries.
func (m *Mesh) Broadcast(from string, payload any, exclude ...string) (int, error) {
	if !m.opts.allowed(FeatureBroadcast) {
		return 0, fmt.Errorf("%w: %s", ErrFeatureDisabled, FeatureBroadcast)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	peers, ok := m.links[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAgent, from)
	}

	at := m.opts.now()
	var sent []Envelope
	for _, peer := range sortedIDs(peers) {
		if slices.Contains(exclude, peer) {
			continue
		}
		e := newEnvelope(from, peer, payload, at, true)
		m.inboxes[peer].push(e)
		sent = append(sent, e)
	}
	m.history.append(sent...)
	m.opts.delivered(meshKind, len(sent))

	logger.DebugCF("topology", "Mesh broadcast", map[string]any{
		"from":      from,
		"delivered": len(sent),
		"excluded":  len(exclude),
	})
	return len(sent), nil
}

// Responder answers a query on behalf of peer.
type Responder func(ctx context.Context, peer Agent, query Envelope) (any, error)

// QueryResult holds one answer (or error) per queried peer.
type QueryResult struct {
	Responses map[string]any
	Errors    map[string]error
}

// Votes renders each response as a decision string, for crdt.Tally.
func (r QueryResult) Votes() map[string]string {
	out := make(map[string]string, len(r.Responses))
	for peer, resp := range r.Responses {
		out[peer] = fmt.Sprint(resp)
	}
	return out
}

// QueryAll sends query from one agent to all of its peers and gathers
// their answers concurrently. Each answer is also delivered back to the
// querying agent's inbox. A failing responder only affects its own entry.
func (m *Mesh) QueryAll(ctx context.Context, from string, query any, respond Responder) (QueryResult, error) {
	if !m.opts.allowed(FeatureQueries) {
		return QueryResult{}, fmt.Errorf("%w: %s", ErrFeatureDisabled, FeatureQueries)
	}

	m.mu.RLock()
	peers, ok := m.links[from]
	if !ok {
		m.mu.RUnlock()
		return QueryResult{}, fmt.Errorf("%w: %s", ErrUnknownAgent, from)
	}
	targets := make([]Agent, 0, len(peers))
	for _, id := range sortedIDs(peers) {
		targets = append(targets, m.agents[id].clone())
	}
	m.mu.RUnlock()

	res := QueryResult{
		Responses: make(map[string]any, len(targets)),
		Errors:    make(map[string]error),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range targets {
		g.Go(func() error {
			q, err := m.SendMessage(from, peer.ID, query)
			if err != nil {
				// peer left between snapshot and delivery
				mu.Lock()
				res.Errors[peer.ID] = err
				mu.Unlock()
				return nil
			}

			answer, err := respond(gctx, peer, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors[peer.ID] = err
				return nil
			}
			res.Responses[peer.ID] = answer
			if _, err := m.SendMessage(peer.ID, from, answer); err != nil {
				res.Errors[peer.ID] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// Visualize renders the mesh as an adjacency listing.
func (m *Mesh) Visualize() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Mesh topology (%d agents, %d connections)\n", len(m.agents), m.edgesLocked())
	for _, id := range sortedIDs(m.links) {
		a := m.agents[id]
		fmt.Fprintf(&b, "  %s [%s/%s] <-> ", id, a.Type, a.Status)
		peers := sortedIDs(m.links[id])
		if len(peers) == 0 {
			b.WriteString("(none)")
		} else {
			b.WriteString(strings.Join(peers, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Stats summarizes the mesh.
func (m *Mesh) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Kind:         meshKind,
		Agents:       len(m.agents),
		Connections:  m.edgesLocked(),
		StatusCounts: make(map[AgentStatus]int),
		Messages:     m.history.Len(),
	}
	st.Connectivity = connectivity(st.Connections, st.Agents)
	for id, a := range m.agents {
		st.StatusCounts[a.Status]++
		st.Pending += m.inboxes[id].Len()
	}
	return st
}

func sortedIDs[V any](set map[string]V) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package health

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/picoswarm/pkg/logger"
)

// Transition describes a state change of one agent.
type Transition struct {
	AgentID string    `json:"agent_id"`
	SwarmID string    `json:"swarm_id"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// AgentHealth is a point-in-time view of one agent.
type AgentHealth struct {
	AgentID       string        `json:"agent_id"`
	SwarmID       string        `json:"swarm_id"`
	State         State         `json:"state"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	SinceLast     time.Duration `json:"since_last_ns"`
}

type agentRecord struct {
	swarmID  string
	lastBeat time.Time
	state    State
}

// Monitor tracks heartbeats and derives per-agent and per-swarm health.
// Severity only grows until a fresh heartbeat resets the agent to Healthy.
type Monitor struct {
	th Thresholds

	mu        sync.Mutex
	agents    map[string]*agentRecord
	listeners []func(Transition)

	stopChan chan struct{}
	running  bool
}

// NewMonitor creates a monitor with th.
func NewMonitor(th Thresholds) (*Monitor, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		th:     th,
		agents: make(map[string]*agentRecord),
	}, nil
}

// Thresholds returns the configured boundaries.
func (m *Monitor) Thresholds() Thresholds {
	return m.th
}

// OnTransition registers fn to be called after every state change.
// Callbacks run outside the monitor's lock.
func (m *Monitor) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Heartbeat records a heartbeat from agentID at the given time. Stale
// heartbeats (older than the latest seen) are ignored.
func (m *Monitor) Heartbeat(agentID, swarmID string, at time.Time) {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.agents[agentID] = &agentRecord{swarmID: swarmID, lastBeat: at, state: Healthy}
		m.mu.Unlock()
		logger.InfoCF("health", "Tracking agent", map[string]any{
			"agent_id": agentID,
			"swarm_id": swarmID,
		})
		return
	}
	if at.Before(rec.lastBeat) {
		m.mu.Unlock()
		return
	}
	rec.lastBeat = at
	rec.swarmID = swarmID
	var tr *Transition
	if rec.state != Healthy {
		tr = &Transition{AgentID: agentID, SwarmID: swarmID, From: rec.state, To: Healthy, At: at}
		rec.state = Healthy
	}
	listeners := m.listeners
	m.mu.Unlock()

	if tr != nil {
		logger.InfoCF("health", "Agent recovered", map[string]any{
			"agent_id": agentID,
			"from":     tr.From.String(),
		})
		notify(listeners, []Transition{*tr})
	}
}

// AgentState evaluates agentID at now.
func (m *Monitor) AgentState(agentID string, now time.Time) (State, error) {
	m.mu.Lock()
	rec, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return Healthy, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	state, tr := m.evaluateLocked(agentID, rec, now)
	listeners := m.listeners
	m.mu.Unlock()

	if tr != nil {
		notify(listeners, []Transition{*tr})
	}
	return state, nil
}

// SwarmState is the worst state among the swarm's agents.
func (m *Monitor) SwarmState(swarmID string, now time.Time) (State, error) {
	agents := m.Agents(swarmID, now)
	if len(agents) == 0 {
		return Healthy, fmt.Errorf("%w: %s", ErrUnknownSwarm, swarmID)
	}
	worst := Healthy
	for _, a := range agents {
		worst = max(worst, a.State)
	}
	return worst, nil
}

// Agents evaluates and returns every agent of swarmID sorted by id. An
// empty swarmID returns all agents.
func (m *Monitor) Agents(swarmID string, now time.Time) []AgentHealth {
	m.mu.Lock()
	var (
		out []AgentHealth
		trs []Transition
	)
	for id, rec := range m.agents {
		if swarmID != "" && rec.swarmID != swarmID {
			continue
		}
		state, tr := m.evaluateLocked(id, rec, now)
		if tr != nil {
			trs = append(trs, *tr)
		}
		out = append(out, AgentHealth{
			AgentID:       id,
			SwarmID:       rec.swarmID,
			State:         state,
			LastHeartbeat: rec.lastBeat,
			SinceLast:     now.Sub(rec.lastBeat),
		})
	}
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, trs)
	slices.SortFunc(out, func(a, b AgentHealth) int { return strings.Compare(a.AgentID, b.AgentID) })
	return out
}

// Remove stops tracking agentID.
func (m *Monitor) Remove(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
}

func (m *Monitor) evaluateLocked(agentID string, rec *agentRecord, now time.Time) (State, *Transition) {
	derived := m.th.Classify(now.Sub(rec.lastBeat))
	if derived <= rec.state {
		return rec.state, nil
	}
	tr := &Transition{AgentID: agentID, SwarmID: rec.swarmID, From: rec.state, To: derived, At: now}
	rec.state = derived

	fields := map[string]any{
		"agent_id": agentID,
		"swarm_id": rec.swarmID,
		"from":     tr.From.String(),
		"to":       derived.String(),
		"silent":   now.Sub(rec.lastBeat).String(),
	}
	if derived >= Critical {
		logger.WarnCF("health", "Agent health worsened", fields)
	} else {
		logger.InfoCF("health", "Agent health worsened", fields)
	}
	return derived, tr
}

func notify(listeners []func(Transition), trs []Transition) {
	for _, tr := range trs {
		for _, fn := range listeners {
			fn(tr)
		}
	}
}

// Start periodically evaluates every agent so transitions fire without
// callers polling. It is a no-op if already running.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	go m.runChecker(ctx, interval, m.stopChan)

	logger.InfoCF("health", "Heartbeat monitor started", map[string]any{"interval": interval.String()})
}

// Stop halts periodic evaluation.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	close(m.stopChan)
	m.running = false

	logger.InfoC("health", "Heartbeat monitor stopped")
}

func (m *Monitor) runChecker(ctx context.Context, interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case t := <-ticker.C:
			m.Agents("", t)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

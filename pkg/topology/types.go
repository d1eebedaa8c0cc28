// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the work state of an agent.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusWorking   AgentStatus = "working"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Agent is a member of a topology.
type Agent struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Status   AgentStatus       `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
	JoinedAt time.Time         `json:"joined_at"`
}

func (a *Agent) clone() Agent {
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	return c
}

// Envelope is a delivered message. Envelopes are never modified after
// creation. A broadcast produces one envelope per recipient, each flagged
// Broadcast.
type Envelope struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Broadcast bool      `json:"broadcast,omitempty"`
}

func newEnvelope(from, to string, payload any, at time.Time, broadcast bool) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: at,
		Broadcast: broadcast,
	}
}

// Stats summarizes a topology.
type Stats struct {
	Kind         string              `json:"kind"`
	Agents       int                 `json:"agents"`
	Connections  int                 `json:"connections"`
	Connectivity float64             `json:"connectivity"`
	StatusCounts map[AgentStatus]int `json:"status_counts"`
	Messages     int                 `json:"messages"`
	Pending      int                 `json:"pending"`
}

// maxEdges is the number of undirected edges in a complete graph of n
// vertices.
func maxEdges(n int) int {
	return n * (n - 1) / 2
}

func connectivity(edges, n int) float64 {
	if m := maxEdges(n); m > 0 {
		return float64(edges) / float64(m)
	}
	return 0
}

// Recorder receives delivery counts. telemetry.Recorder implements it.
type Recorder interface {
	MessagesDelivered(topology string, n int)
}

// Topology is the surface shared by Mesh and Star.
type Topology interface {
	AddAgent(id, agentType string, metadata map[string]string) error
	RemoveAgent(id string) error
	UpdateStatus(id string, status AgentStatus) error
	SendMessage(from, to string, payload any) (Envelope, error)
	Inbox(id string) (*Inbox, error)
	History() *History
	Visualize() string
	Stats() Stats
}

// Option configures a topology.
type Option func(*options)

type options struct {
	recorder Recorder
	now      func() time.Time
	gate     func(feature string) bool
}

func defaultOptions() options {
	return options{now: time.Now}
}

// WithRecorder reports deliveries to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithClock overrides the time source used to stamp envelopes.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Gated features. The names match resilience's degradation profiles.
const (
	FeatureBroadcast = "broadcast"
	FeatureQueries   = "mesh_queries"
)

// WithFeatureGate consults allow before broadcasts and mesh queries.
// *resilience.Degrader's FeatureEnabled fits.
func WithFeatureGate(allow func(feature string) bool) Option {
	return func(o *options) { o.gate = allow }
}

func (o options) allowed(feature string) bool {
	return o.gate == nil || o.gate(feature)
}

func (o options) delivered(kind string, n int) {
	if o.recorder != nil && n > 0 {
		o.recorder.MessagesDelivered(kind, n)
	}
}

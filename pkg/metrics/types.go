// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"fmt"
	"time"
)

// Table names one of the metric tables.
type Table string

const (
	TableTask    Table = "task_metrics"
	TableAgent   Table = "agent_metrics"
	TableSwarm   Table = "swarm_metrics"
	TableHealing Table = "healing_events"
)

// Tables lists every table in schema order.
var Tables = []Table{TableTask, TableAgent, TableSwarm, TableHealing}

// ParseTable accepts a table name or its short form (task, agent, swarm,
// healing).
func ParseTable(name string) (Table, error) {
	switch name {
	case "task", string(TableTask):
		return TableTask, nil
	case "agent", string(TableAgent):
		return TableAgent, nil
	case "swarm", string(TableSwarm):
		return TableSwarm, nil
	case "healing", string(TableHealing):
		return TableHealing, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

type tableSpec struct {
	filterable map[string]bool
	numeric    map[string]bool
}

var schemaSpecs = map[Table]tableSpec{
	TableTask: {
		filterable: set("task_id", "agent_id", "swarm_id", "metric_type", "result"),
		numeric:    set("value", "duration_ms", "token_count", "files_changed"),
	},
	TableAgent: {
		filterable: set("agent_id", "swarm_id", "metric_type"),
		numeric:    set("value"),
	},
	TableSwarm: {
		filterable: set("swarm_id", "metric_type"),
		numeric:    set("value"),
	},
	TableHealing: {
		filterable: set("agent_id", "swarm_id", "failure_type", "strategy", "success"),
		numeric:    set("duration_ms", "success"),
	},
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Task results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// TaskMetric is one measurement of a task run.
type TaskMetric struct {
	ID           int64          `json:"id"`
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	SwarmID      string         `json:"swarm_id"`
	MetricType   string         `json:"metric_type"`
	Value        float64        `json:"value"`
	DurationMS   int64          `json:"duration_ms"`
	Result       string         `json:"result"`
	TokenCount   int64          `json:"token_count"`
	FilesChanged int64          `json:"files_changed"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AgentMetric is a named measurement about one agent.
type AgentMetric struct {
	ID         int64          `json:"id"`
	AgentID    string         `json:"agent_id"`
	SwarmID    string         `json:"swarm_id"`
	MetricType string         `json:"metric_type"`
	Value      float64        `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SwarmMetric is a named measurement about a whole swarm.
type SwarmMetric struct {
	ID         int64          `json:"id"`
	SwarmID    string         `json:"swarm_id"`
	MetricType string         `json:"metric_type"`
	Value      float64        `json:"value"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// HealingEvent records one healing attempt.
type HealingEvent struct {
	ID          string    `json:"id" yaml:"id"`
	AgentID     string    `json:"agent_id" yaml:"agent_id"`
	SwarmID     string    `json:"swarm_id,omitempty" yaml:"swarm_id,omitempty"`
	FailureType string    `json:"failure_type" yaml:"failure_type"`
	Strategy    string    `json:"strategy" yaml:"strategy"`
	Success     bool      `json:"success" yaml:"success"`
	DurationMS  int64     `json:"duration_ms" yaml:"duration_ms"`
	Actions     []string  `json:"actions,omitempty" yaml:"actions,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// Filter narrows a Get* query. Equals keys must be filterable columns of
// the queried table. Zero Since/Until are open bounds; zero Limit means no
// limit.
type Filter struct {
	Equals map[string]any
	Since  time.Time
	Until  time.Time
	Limit  int
}

// TimeRange is a half-open interval [Start, End). Zero bounds are open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Hours returns the length of the range in hours, or 0 if either bound is
// open.
func (r TimeRange) Hours() float64 {
	if r.Start.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start).Hours()
}

// AggFunc is an aggregation function.
type AggFunc string

const (
	AggAvg    AggFunc = "avg"
	AggSum    AggFunc = "sum"
	AggCount  AggFunc = "count"
	AggMin    AggFunc = "min"
	AggMax    AggFunc = "max"
	AggStdDev AggFunc = "stddev"
)

// Valid reports whether f is a known aggregation.
func (f AggFunc) Valid() bool {
	switch f {
	case AggAvg, AggSum, AggCount, AggMin, AggMax, AggStdDev:
		return true
	}
	return false
}

// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "metrics.db"), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesTablesAndIndexes(t *testing.T) {
	s := testStore(t)

	for _, table := range Tables {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", string(table)).Scan(&name)
		require.NoError(t, err, "table %s", table)

		var indexes int
		err = s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND tbl_name=? AND name LIKE 'idx_%'", string(table)).Scan(&indexes)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, indexes, 2, "table %s needs timestamp and owner indexes", table)
	}
}

func TestStore_TaskMetricsFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{
		TaskID: "t1", AgentID: "a1", SwarmID: "s1", MetricType: "run",
		DurationMS: 1200, Result: ResultSuccess, TokenCount: 500, FilesChanged: 3,
		Metadata: map[string]any{"model": "small"}, Timestamp: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{
		TaskID: "t2", AgentID: "a2", SwarmID: "s1", MetricType: "run",
		DurationMS: 800, Result: ResultFailure, Timestamp: now.Add(-time.Hour),
	}))

	all, err := s.GetTaskMetrics(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t1", all[0].TaskID)
	assert.Equal(t, "small", all[0].Metadata["model"])
	assert.True(t, all[0].Timestamp.Equal(now.Add(-2*time.Hour)))

	failed, err := s.GetTaskMetrics(ctx, Filter{Equals: map[string]any{"result": ResultFailure}})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "a2", failed[0].AgentID)

	recent, err := s.GetTaskMetrics(ctx, Filter{Since: now.Add(-90 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t2", recent[0].TaskID)

	limited, err := s.GetTaskMetrics(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = s.GetTaskMetrics(ctx, Filter{Equals: map[string]any{"value; DROP TABLE task_metrics": 1}})
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestStore_AgentAndSwarmMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreAgentMetric(ctx, AgentMetric{AgentID: "a1", SwarmID: "s1", MetricType: "cpu", Value: 42}))
	require.NoError(t, s.StoreSwarmMetric(ctx, SwarmMetric{SwarmID: "s1", MetricType: "agents", Value: 5}))

	am, err := s.GetAgentMetrics(ctx, Filter{Equals: map[string]any{"agent_id": "a1"}})
	require.NoError(t, err)
	require.Len(t, am, 1)
	assert.Equal(t, 42.0, am[0].Value)
	assert.True(t, am[0].Timestamp.Equal(now))
	assert.Nil(t, am[0].Metadata)

	sm, err := s.GetSwarmMetrics(ctx, Filter{Equals: map[string]any{"swarm_id": "s1", "metric_type": "agents"}})
	require.NoError(t, err)
	require.Len(t, sm, 1)
	assert.Equal(t, 5.0, sm[0].Value)
}

func TestStore_HealingEvents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreHealingEvent(ctx, HealingEvent{
		ID: "h1", AgentID: "a1", FailureType: "agent_crash", Strategy: "circuit_breaker",
		Success: true, DurationMS: 35, Actions: []string{"open circuit", "reroute"},
		Timestamp: now.Add(-time.Minute),
	}))
	require.NoError(t, s.StoreHealingEvent(ctx, HealingEvent{
		ID: "h2", AgentID: "a1", FailureType: "resource_exhaustion", Strategy: "degradation",
		Success: false, Error: "no lower level", Timestamp: now,
	}))

	events, err := s.GetHealingEvents(ctx, Filter{Equals: map[string]any{"success": true}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"open circuit", "reroute"}, events[0].Actions)

	events, err = s.GetHealingEvents(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.False(t, events[1].Success)
	assert.Equal(t, "no lower level", events[1].Error)
}

func TestStore_Aggregate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, d := range []int64{2, 4, 4, 4, 5, 5, 7, 9} {
		require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{
			TaskID: "t", AgentID: "a1", MetricType: "run", DurationMS: d,
			Result: ResultSuccess, Timestamp: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	all := TimeRange{}

	tests := []struct {
		fn   AggFunc
		want float64
	}{
		{AggAvg, 5},
		{AggSum, 40},
		{AggCount, 8},
		{AggMin, 2},
		{AggMax, 9},
		{AggStdDev, 2},
	}
	for _, tt := range tests {
		got, err := s.Aggregate(ctx, TableTask, tt.fn, "duration_ms", all, nil)
		require.NoError(t, err, tt.fn)
		assert.InDelta(t, tt.want, got, 1e-9, tt.fn)
	}

	window := TimeRange{Start: now, End: now.Add(2 * time.Minute)}
	got, err := s.Aggregate(ctx, TableTask, AggSum, "duration_ms", window, map[string]any{"agent_id": "a1"})
	require.NoError(t, err)
	assert.InDelta(t, 6.0, got, 1e-9)
}

func TestStore_AggregateEmptyAndInvalid(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	n, err := s.Aggregate(ctx, TableAgent, AggCount, "", TimeRange{}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, fn := range []AggFunc{AggAvg, AggSum, AggMin, AggMax, AggStdDev} {
		_, err := s.Aggregate(ctx, TableAgent, fn, "value", TimeRange{}, nil)
		assert.ErrorIs(t, err, ErrAggregation, fn)
	}

	_, err = s.Aggregate(ctx, TableAgent, AggAvg, "agent_id", TimeRange{}, nil)
	assert.ErrorIs(t, err, ErrAggregation)
	_, err = s.Aggregate(ctx, TableAgent, AggFunc("median"), "value", TimeRange{}, nil)
	assert.ErrorIs(t, err, ErrAggregation)
	_, err = s.Aggregate(ctx, Table("nope"), AggCount, "", TimeRange{}, nil)
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestStore_CleanupOldMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := now.AddDate(0, 0, -45)
	fresh := now.AddDate(0, 0, -5)
	for range 3 {
		require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{TaskID: "t", AgentID: "a", MetricType: "run", Timestamp: old}))
	}
	require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{TaskID: "t", AgentID: "a", MetricType: "run", Timestamp: fresh}))
	require.NoError(t, s.StoreAgentMetric(ctx, AgentMetric{AgentID: "a", MetricType: "cpu", Timestamp: old}))
	require.NoError(t, s.StoreAgentMetric(ctx, AgentMetric{AgentID: "a", MetricType: "cpu", Timestamp: fresh}))
	require.NoError(t, s.StoreSwarmMetric(ctx, SwarmMetric{SwarmID: "s", MetricType: "size", Timestamp: fresh}))

	deleted, err := s.CleanupOldMetrics(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted[TableTask])
	assert.Equal(t, int64(1), deleted[TableAgent])
	assert.Equal(t, int64(0), deleted[TableSwarm])
	assert.Equal(t, int64(0), deleted[TableHealing])

	tasks, err := s.GetTaskMetrics(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Timestamp.Equal(fresh))

	require.NoError(t, s.Vacuum(ctx))

	_, err = s.CleanupOldMetrics(ctx, -1)
	assert.Error(t, err)
}

func TestStore_UptimeAndThroughput(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, offset := range []time.Duration{0, 30 * time.Minute, 90 * time.Minute} {
		require.NoError(t, s.StoreAgentMetric(ctx, AgentMetric{
			AgentID: "a1", MetricType: "heartbeat", Value: 1, Timestamp: now.Add(offset),
		}))
	}
	up, err := s.AgentUptime(ctx, "a1", TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, up)

	up, err = s.AgentUptime(ctx, "ghost", TimeRange{})
	require.NoError(t, err)
	assert.Zero(t, up)

	for i := range 6 {
		result := ResultSuccess
		if i == 5 {
			result = ResultFailure
		}
		require.NoError(t, s.StoreTaskMetric(ctx, TaskMetric{
			TaskID: "t", AgentID: "a1", SwarmID: "s1", MetricType: "run",
			Result: result, Timestamp: now.Add(time.Duration(i) * 10 * time.Minute),
		}))
	}
	tp, err := s.Throughput(ctx, "s1", TimeRange{Start: now, End: now.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, tp, 1e-9)

	_, err = s.Throughput(ctx, "s1", TimeRange{})
	assert.ErrorIs(t, err, ErrAggregation)
}

func TestStore_ClosedReportsUnavailable(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Close())

	err := s.StoreAgentMetric(context.Background(), AgentMetric{AgentID: "a", MetricType: "cpu"})
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestStddev(t *testing.T) {
	assert.InDelta(t, 0.0, stddev([]float64{3}), 1e-12)
	assert.InDelta(t, math.Sqrt(2), stddev([]float64{1, 2, 3, 4, 5}), 1e-12)
}

func TestParseTable(t *testing.T) {
	tbl, err := ParseTable("agent")
	require.NoError(t, err)
	assert.Equal(t, TableAgent, tbl)

	tbl, err = ParseTable("healing_events")
	require.NoError(t, err)
	assert.Equal(t, TableHealing, tbl)

	_, err = ParseTable("users")
	assert.ErrorIs(t, err, ErrUnknownTable)
}

func TestStore_UnencodableMetadataIsInvalidRecord(t *testing.T) {
	s := testStore(t)

	err := s.StoreTaskMetric(context.Background(), TaskMetric{
		TaskID: "t", AgentID: "a", MetricType: "run",
		Metadata: map[string]any{"v": math.Inf(1)},
	})
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 0, countRows(t, s, TableTask))
}

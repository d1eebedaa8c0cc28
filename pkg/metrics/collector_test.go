// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingSink) ReportStorageFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func countRows(t *testing.T, s *Store, table Table) int {
	t.Helper()
	n, err := s.Aggregate(context.Background(), table, AggCount, "", TimeRange{}, nil)
	require.NoError(t, err)
	return int(n)
}

func TestCollector_FlushesAtBatchSize(t *testing.T) {
	s := testStore(t)
	c := NewCollector(s, CollectorConfig{BatchSize: 3, FlushInterval: time.Hour}, nil)

	c.RecordAgent(AgentMetric{AgentID: "a", MetricType: "cpu", Value: 1})
	c.RecordSwarm(SwarmMetric{SwarmID: "s", MetricType: "size", Value: 2})
	assert.Equal(t, 0, countRows(t, s, TableAgent))
	assert.Equal(t, 2, c.Stats().Pending)

	c.RecordTask(TaskMetric{TaskID: "t", AgentID: "a", MetricType: "run"})
	assert.Equal(t, 1, countRows(t, s, TableAgent))
	assert.Equal(t, 1, countRows(t, s, TableSwarm))
	assert.Equal(t, 1, countRows(t, s, TableTask))

	st := c.Stats()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, int64(3), st.Flushed)
}

func TestCollector_CloseFlushesRemainder(t *testing.T) {
	s := testStore(t)
	c := NewCollector(s, CollectorConfig{BatchSize: 50, FlushInterval: time.Hour}, nil)
	c.Start(context.Background())

	c.RecordAgent(AgentMetric{AgentID: "a", MetricType: "cpu"})
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, 1, countRows(t, s, TableAgent))
}

func TestCollector_PeriodicFlush(t *testing.T) {
	s := testStore(t)
	c := NewCollector(s, CollectorConfig{BatchSize: 50, FlushInterval: 10 * time.Millisecond}, nil)
	c.Start(context.Background())
	defer c.Close(context.Background())

	c.RecordAgent(AgentMetric{AgentID: "a", MetricType: "cpu"})
	assert.Eventually(t, func() bool {
		return c.Stats().Flushed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCollector_FailureReportedAndRetained(t *testing.T) {
	s := testStore(t)
	sink := &recordingSink{}
	c := NewCollector(s, CollectorConfig{BatchSize: 10, FlushInterval: time.Hour, MaxPending: 10}, sink)

	c.RecordAgent(AgentMetric{AgentID: "a", MetricType: "cpu"})
	require.NoError(t, s.Close())

	err := c.Flush(context.Background())
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, 1, sink.count())

	st := c.Stats()
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, int64(1), st.Failures)
}

func TestCollector_UnencodableRecordDoesNotBlockBatch(t *testing.T) {
	s := testStore(t)
	sink := &recordingSink{}
	c := NewCollector(s, CollectorConfig{BatchSize: 100, FlushInterval: time.Hour}, sink)
	ctx := context.Background()

	c.RecordTask(TaskMetric{TaskID: "bad", AgentID: "a", MetricType: "run", Metadata: map[string]any{"v": math.NaN()}})
	for range 5 {
		c.RecordTask(TaskMetric{TaskID: "ok", AgentID: "a", MetricType: "run"})
		require.NoError(t, c.Flush(ctx))
	}

	assert.Equal(t, 5, countRows(t, s, TableTask))
	assert.Zero(t, sink.count())

	st := c.Stats()
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, int64(5), st.Flushed)
	assert.Equal(t, int64(1), st.Rejected)
	assert.Zero(t, st.Failures)
}

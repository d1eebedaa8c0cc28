// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import (
	"testing"
	"time"

	"github.com/sipeed/picoswarm/pkg/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	cur := start
	return func() time.Time {
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

func TestSynchronizer_AdoptsUnknownKeys(t *testing.T) {
	a := NewSynchronizer("a", New(StrategyLWW), 0)
	b := NewSynchronizer("b", New(StrategyLWW), 0)

	v := a.Update("task/1", "claimed", crdt.KindLWWRegister)
	changed, err := b.Apply(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"task/1"}, changed)

	got, ok := b.Get("task/1")
	require.True(t, ok)
	assert.Equal(t, "claimed", got.Value)

	changed, err = b.Apply(v)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Equal(t, 1, b.Stats().Unchanged)
}

func TestSynchronizer_VectorClockConverges(t *testing.T) {
	a := NewSynchronizer("a", New(StrategyVectorClock), 0)
	b := NewSynchronizer("b", New(StrategyVectorClock), 0)
	a.now = fixedClock(t0)
	b.now = fixedClock(t0.Add(time.Hour))

	va := a.Update("k", "from-a", crdt.KindUnknown)
	_, err := b.Apply(va)
	require.NoError(t, err)

	// b has seen a's write, so its update causally follows.
	vb := b.Update("k", "from-b", crdt.KindUnknown)
	_, err = a.Apply(vb)
	require.NoError(t, err)

	got, _ := a.Get("k")
	assert.Equal(t, "from-b", got.Value)
	assert.Equal(t, 0, a.Stats().Fallbacks)

	assert.Empty(t, DetectConflicts(map[string]map[string]StateVersion{
		"a": {"k": got},
		"b": {"k": vb},
	}))
}

func TestSynchronizer_ConcurrentWritesRecordFallback(t *testing.T) {
	a := NewSynchronizer("a", New(StrategyVectorClock), 2)
	b := NewSynchronizer("b", New(StrategyVectorClock), 0)
	a.now = fixedClock(t0)
	b.now = fixedClock(t0.Add(time.Second))

	a.Update("k", "a", crdt.KindUnknown)
	vb := b.Update("k", "b", crdt.KindUnknown)

	changed, err := a.Apply(vb)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, changed)

	st := a.Stats()
	assert.Equal(t, 1, st.Conflicts)
	assert.Equal(t, 1, st.Fallbacks)

	hist := a.History()
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Fallback)
	assert.Equal(t, "b", hist[0].Winner)

	got, _ := a.Get("k")
	assert.Equal(t, VectorClock{"a": 1, "b": 1}, got.VectorClock)
}

func TestSynchronizer_HistoryBounded(t *testing.T) {
	s := NewSynchronizer("a", New(StrategyLWW), 2)
	s.now = fixedClock(t0)
	for i := 0; i < 5; i++ {
		s.Update("k", i, crdt.KindUnknown)
		_, err := s.Apply(StateVersion{Key: "k", Value: -i, Version: int64(100 + i), Timestamp: t0.Add(time.Hour), AgentID: "z"})
		require.NoError(t, err)
	}
	assert.Len(t, s.History(), 2)
}

func TestSynchronizer_RedeliveredCounterAppliedOnce(t *testing.T) {
	a := NewSynchronizer("a", New(StrategyCRDT), 0)
	b := NewSynchronizer("b", New(StrategyCRDT), 0)

	a.Update("hits", int64(3), crdt.KindGCounter)
	vb := b.Update("hits", int64(5), crdt.KindGCounter)

	_, err := a.Apply(vb)
	require.NoError(t, err)
	changed, err := a.Apply(vb)
	require.NoError(t, err)
	assert.Empty(t, changed)

	got, _ := a.Get("hits")
	assert.Equal(t, int64(8), got.Value)
	assert.Equal(t, 1, a.Stats().Conflicts)
	assert.Equal(t, 1, a.Stats().Unchanged)
}

func TestSynchronizer_RedeliveryWithoutVectorClock(t *testing.T) {
	s := NewSynchronizer("a", New(StrategyCRDT), 0)
	s.Update("hits", int64(3), crdt.KindGCounter)

	remote := StateVersion{Key: "hits", Value: int64(5), Version: 1, Timestamp: t0, AgentID: "b", Kind: crdt.KindGCounter}
	for i := 0; i < 3; i++ {
		_, err := s.Apply(remote)
		require.NoError(t, err)
	}
	got, _ := s.Get("hits")
	assert.Equal(t, int64(8), got.Value)

	// a newer version from the same agent is still merged
	remote.Version = 2
	remote.Value = int64(1)
	_, err := s.Apply(remote)
	require.NoError(t, err)
	got, _ = s.Get("hits")
	assert.Equal(t, int64(9), got.Value)
}

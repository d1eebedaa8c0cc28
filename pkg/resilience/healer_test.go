// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resilience

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sipeed/picoswarm/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryEvents struct {
	mu     sync.Mutex
	events []metrics.HealingEvent
	err    error
}

func (m *memoryEvents) StoreHealingEvent(_ context.Context, e metrics.HealingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func newTestHealer(t *testing.T, clk *fakeClock, events EventStore, cfg HealerConfig) *Healer {
	t.Helper()
	breakers := NewBreakers(BreakerConfig{FailureThreshold: 2, Timeout: time.Minute}, WithBreakerClock(clk.Now))
	degrader, err := NewDegrader(DefaultDegraderConfig())
	require.NoError(t, err)
	opts := []HealerOption{WithHealerClock(clk.Now)}
	if events != nil {
		opts = append(opts, WithEventStore(events))
	}
	return NewHealer(breakers, degrader, cfg, opts...)
}

func TestStrategyFor(t *testing.T) {
	assert.Equal(t, StrategyCircuitBreaker, StrategyFor(FailureAgentCrash))
	assert.Equal(t, StrategyCircuitBreaker, StrategyFor(FailureAgentTimeout))
	assert.Equal(t, StrategyCircuitBreaker, StrategyFor(FailureDependency))
	assert.Equal(t, StrategyDegradation, StrategyFor(FailureResourceExhaustion))
	assert.Equal(t, StrategyProbe, StrategyFor(FailureTaskError))
	assert.Equal(t, StrategyProbe, StrategyFor("cosmic_ray"))
}

func TestHealer_CircuitBreakerIsolatesAgent(t *testing.T) {
	clk := newFakeClock()
	events := &memoryEvents{}
	h := newTestHealer(t, clk, events, HealerConfig{Burst: 10})
	ctx := context.Background()
	ev := FailureEvent{AgentID: "a1", SwarmID: "s1", Type: FailureAgentCrash}

	res := h.Heal(ctx, ev, ExecutionContext{})
	assert.True(t, res.Success)
	assert.Equal(t, StrategyCircuitBreaker, res.StrategyUsed)
	assert.Equal(t, "recorded failure on circuit a1", res.ActionsTaken[0])

	res = h.Heal(ctx, ev, ExecutionContext{})
	assert.True(t, res.Success)
	assert.Contains(t, res.ActionsTaken[1], "circuit a1 open")
	assert.Equal(t, CircuitOpen, h.breakers.Get("a1").State())

	require.Len(t, events.events, 2)
	stored := events.events[1]
	assert.Equal(t, "a1", stored.AgentID)
	assert.Equal(t, "s1", stored.SwarmID)
	assert.Equal(t, string(FailureAgentCrash), stored.FailureType)
	assert.Equal(t, string(StrategyCircuitBreaker), stored.Strategy)
	assert.True(t, stored.Success)
	assert.NotEmpty(t, stored.ID)
	assert.NotEqual(t, events.events[0].ID, stored.ID)
}

func TestHealer_DependencyProbe(t *testing.T) {
	clk := newFakeClock()
	h := newTestHealer(t, clk, nil, HealerConfig{Burst: 10})
	ctx := context.Background()
	ev := FailureEvent{AgentID: "a1", Type: FailureDependency, Resource: "vector-db"}

	res := h.Heal(ctx, ev, ExecutionContext{Probe: passing})
	assert.True(t, res.Success)
	assert.Equal(t, []string{"recorded failure on circuit vector-db", "probe succeeded"}, res.ActionsTaken)

	// the probe failing trips the breaker (threshold 2), which contains it
	res = h.Heal(ctx, ev, ExecutionContext{Probe: failing})
	assert.Equal(t, CircuitOpen, h.breakers.Get("vector-db").State())
	assert.True(t, res.Success)
	assert.Equal(t, errBoom.Error(), res.Error)
}

func TestHealer_DegradationForExhaustion(t *testing.T) {
	clk := newFakeClock()
	h := newTestHealer(t, clk, nil, HealerConfig{Burst: 10})
	ctx := context.Background()

	res := h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureResourceExhaustion, Usage: 80}, ExecutionContext{})
	assert.True(t, res.Success)
	assert.Equal(t, StrategyDegradation, res.StrategyUsed)
	assert.Equal(t, "degraded to REDUCED_1 (capacity 80%)", res.ActionsTaken[0])
	assert.Equal(t, LevelReduced1, h.degrader.Level())

	for range 3 {
		h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureResourceExhaustion}, ExecutionContext{})
	}
	assert.Equal(t, LevelMinimal, h.degrader.Level())

	res = h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureResourceExhaustion}, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, "already at MINIMAL", res.ActionsTaken[0])
}

func TestHealer_ProbeRunsOnce(t *testing.T) {
	clk := newFakeClock()
	h := newTestHealer(t, clk, nil, HealerConfig{Burst: 10})
	ctx := context.Background()

	calls := 0
	res := h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureTaskError}, ExecutionContext{
		Probe: func(context.Context) error {
			calls++
			return errBoom
		},
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StrategyProbe, res.StrategyUsed)
	assert.Equal(t, []string{"probe"}, res.ActionsTaken)
	assert.Equal(t, errBoom.Error(), res.Error)

	calls = 0
	res = h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureTaskError}, ExecutionContext{
		Probe: func(context.Context) error {
			calls++
			return nil
		},
	})
	assert.True(t, res.Success)
	assert.Equal(t, 1, calls)

	res = h.Heal(ctx, FailureEvent{AgentID: "a1", Type: FailureTaskError}, ExecutionContext{})
	assert.False(t, res.Success)
	assert.Equal(t, "nothing to probe", res.Error)
}

func TestHealer_RateLimitedPerAgent(t *testing.T) {
	clk := newFakeClock()
	events := &memoryEvents{}
	h := newTestHealer(t, clk, events, HealerConfig{AttemptsPerMinute: 6, Burst: 2})
	ctx := context.Background()
	ev := FailureEvent{AgentID: "a1", Type: FailureTaskError}

	h.Heal(ctx, ev, ExecutionContext{})
	h.Heal(ctx, ev, ExecutionContext{})
	res := h.Heal(ctx, ev, ExecutionContext{})
	assert.Equal(t, StrategyNone, res.StrategyUsed)
	assert.Contains(t, res.Error, ErrRateLimited.Error())
	assert.Len(t, events.events, 2)

	// other agents have their own budget
	res = h.Heal(ctx, FailureEvent{AgentID: "a2", Type: FailureTaskError}, ExecutionContext{})
	assert.Equal(t, StrategyProbe, res.StrategyUsed)

	// one token refills every 10 seconds
	clk.Advance(10 * time.Second)
	res = h.Heal(ctx, ev, ExecutionContext{})
	assert.Equal(t, StrategyProbe, res.StrategyUsed)
}

func TestHealer_OutcomeHookAndPersistFailure(t *testing.T) {
	clk := newFakeClock()
	events := &memoryEvents{err: errors.New("disk full")}
	h := newTestHealer(t, clk, events, HealerConfig{Burst: 10})

	var got []HealingResult
	h.OnOutcome(func(_ FailureEvent, res HealingResult) { got = append(got, res) })

	res := h.Heal(context.Background(), FailureEvent{AgentID: "a1", Type: FailureAgentTimeout}, ExecutionContext{})
	assert.True(t, res.Success)
	require.Len(t, got, 1)
	assert.Equal(t, res.StrategyUsed, got[0].StrategyUsed)
}

func TestHealer_PersistsToMetricsStore(t *testing.T) {
	store, err := metrics.Open(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	defer store.Close()

	clk := newFakeClock()
	h := newTestHealer(t, clk, store, HealerConfig{Burst: 10})
	h.Heal(context.Background(), FailureEvent{AgentID: "a1", Type: FailureResourceExhaustion, Usage: 70}, ExecutionContext{})

	events, err := store.GetHealingEvents(context.Background(), metrics.Filter{Equals: map[string]any{"agent_id": "a1"}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(StrategyDegradation), events[0].Strategy)
	assert.True(t, events[0].Timestamp.Equal(clk.Now()))
}

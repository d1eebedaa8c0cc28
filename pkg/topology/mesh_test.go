// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sipeed/picoswarm/pkg/crdt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) MessagesDelivered(topology string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[topology] += n
}

func newMeshWith(t *testing.T, n int, opts ...Option) *Mesh {
	t.Helper()
	m := NewMesh(opts...)
	for i := range n {
		require.NoError(t, m.AddAgent(fmt.Sprintf("agent-%d", i), "worker", nil))
	}
	return m
}

func TestMesh_FullConnectivity(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 8} {
		m := newMeshWith(t, n)
		assert.Equal(t, n*(n-1)/2, m.ConnectionCount(), "n=%d", n)

		st := m.Stats()
		assert.Equal(t, n, st.Agents)
		if n > 1 {
			assert.InDelta(t, 1.0, st.Connectivity, 1e-9)
		}
	}
}

func TestMesh_DuplicateAgent(t *testing.T) {
	m := newMeshWith(t, 1)
	err := m.AddAgent("agent-0", "worker", nil)
	assert.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestMesh_AddAgentCopiesMetadata(t *testing.T) {
	m := NewMesh()
	meta := map[string]string{"zone": "eu"}
	require.NoError(t, m.AddAgent("a1", "worker", meta))

	meta["zone"] = "us"
	meta["extra"] = "x"

	a, ok := m.Agent("a1")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"zone": "eu"}, a.Metadata)
}

func TestMesh_RemoveRetractsEdges(t *testing.T) {
	m := newMeshWith(t, 4)
	require.NoError(t, m.RemoveAgent("agent-2"))

	assert.Equal(t, 3, m.ConnectionCount())
	for _, a := range m.Agents() {
		peers, err := m.Neighbors(a.ID)
		require.NoError(t, err)
		assert.NotContains(t, peers, "agent-2")
		assert.Len(t, peers, 2)
	}

	_, err := m.Inbox("agent-2")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.ErrorIs(t, m.RemoveAgent("agent-2"), ErrUnknownAgent)
}

func TestMesh_SendMessage(t *testing.T) {
	rec := &countingRecorder{}
	m := newMeshWith(t, 3, WithRecorder(rec))

	e, err := m.SendMessage("agent-0", "agent-1", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Broadcast)

	in, err := m.Inbox("agent-1")
	require.NoError(t, err)
	got, ok := in.Pop()
	require.True(t, ok)
	assert.Equal(t, e, got)
	assert.Equal(t, 0, in.Len())

	_, err = m.SendMessage("agent-0", "ghost", "x")
	assert.ErrorIs(t, err, ErrUnknownAgent)
	_, err = m.SendMessage("agent-0", "agent-0", "x")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, 1, m.History().Len())
	assert.Equal(t, 1, rec.counts[meshKind])
}

func TestMesh_Broadcast(t *testing.T) {
	m := newMeshWith(t, 5)

	n, err := m.Broadcast("agent-0", "sync", "agent-3")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{"agent-1", "agent-2", "agent-4"} {
		in, _ := m.Inbox(id)
		e, ok := in.Peek()
		require.True(t, ok, id)
		assert.True(t, e.Broadcast)
		assert.Equal(t, "sync", e.Payload)
	}
	in, _ := m.Inbox("agent-3")
	assert.Equal(t, 0, in.Len())

	_, err = m.Broadcast("ghost", "sync")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestMesh_QueryAllFeedsTally(t *testing.T) {
	m := newMeshWith(t, 5)

	res, err := m.QueryAll(context.Background(), "agent-0", "deploy?", func(_ context.Context, peer Agent, q Envelope) (any, error) {
		switch peer.ID {
		case "agent-4":
			return nil, errors.New("timeout")
		case "agent-3":
			return "no", nil
		default:
			return "yes", nil
		}
	})
	require.NoError(t, err)

	assert.Len(t, res.Responses, 3)
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors, "agent-4")

	result := crdt.Tally(res.Votes(), crdt.SimpleMajority)
	assert.Equal(t, "yes", result.Decision)
	assert.True(t, result.Approved)

	in, _ := m.Inbox("agent-0")
	assert.Equal(t, 3, in.Len())
}

func TestMesh_QueryAllUnknownSender(t *testing.T) {
	m := newMeshWith(t, 2)
	_, err := m.QueryAll(context.Background(), "ghost", "q", func(context.Context, Agent, Envelope) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestMesh_UpdateStatusAndStats(t *testing.T) {
	m := newMeshWith(t, 3)
	require.NoError(t, m.UpdateStatus("agent-1", StatusWorking))
	assert.Error(t, m.UpdateStatus("agent-1", AgentStatus("sleeping")))
	assert.ErrorIs(t, m.UpdateStatus("ghost", StatusIdle), ErrUnknownAgent)

	st := m.Stats()
	assert.Equal(t, 2, st.StatusCounts[StatusIdle])
	assert.Equal(t, 1, st.StatusCounts[StatusWorking])

	a, ok := m.Agent("agent-1")
	require.True(t, ok)
	assert.Equal(t, StatusWorking, a.Status)
}

func TestMesh_Visualize(t *testing.T) {
	m := newMeshWith(t, 3)
	out := m.Visualize()
	assert.Contains(t, out, "3 agents, 3 connections")
	assert.Contains(t, out, "agent-0 [worker/idle] <-> agent-1, agent-2")
}

func TestMesh_ConcurrentSends(t *testing.T) {
	m := newMeshWith(t, 4)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from := fmt.Sprintf("agent-%d", i%3)
			_, _ = m.SendMessage(from, "agent-3", i)
		}()
	}
	wg.Wait()

	in, _ := m.Inbox("agent-3")
	assert.Len(t, in.Drain(), 50)
	assert.Equal(t, 50, m.History().Len())
}

func TestMesh_FeatureGate(t *testing.T) {
	disabled := map[string]bool{FeatureBroadcast: true, FeatureQueries: true}
	m := newMeshWith(t, 3, WithFeatureGate(func(f string) bool { return !disabled[f] }))

	_, err := m.Broadcast("agent-0", "ping")
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	_, err = m.QueryAll(context.Background(), "agent-0", "q", func(context.Context, Agent, Envelope) (any, error) {
		return "yes", nil
	})
	assert.ErrorIs(t, err, ErrFeatureDisabled)

	// point-to-point delivery is never gated
	_, err = m.SendMessage("agent-0", "agent-1", "direct")
	require.NoError(t, err)
	assert.Equal(t, 1, m.History().Len())

	delete(disabled, FeatureBroadcast)
	n, err := m.Broadcast("agent-0", "ping")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// PicoClaw - Ultra-lightweight personal AI agent
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounters(t *testing.T) (*GCounter, *GCounter, *GCounter) {
	t.Helper()
	a, b, c := NewGCounter("a"), NewGCounter("b"), NewGCounter("c")
	require.NoError(t, a.Increment(5))
	require.NoError(t, b.Increment(3))
	require.NoError(t, c.Increment(7))
	require.NoError(t, a.Increment(1))
	return a, b, c
}

func TestGCounter_Laws(t *testing.T) {
	a, b, c := newCounters(t)

	assert.True(t, a.Merge(b).Equal(b.Merge(a)), "commutative")
	assert.True(t, a.Merge(b).Merge(c).Equal(a.Merge(b.Merge(c))), "associative")
	assert.True(t, a.Merge(a).Equal(a), "idempotent")
}

func TestGCounter_MergeValue(t *testing.T) {
	a, b := NewGCounter("A"), NewGCounter("B")
	require.NoError(t, a.Increment(5))
	require.NoError(t, b.Increment(3))

	assert.Equal(t, int64(8), a.Merge(b).Value())
	assert.Equal(t, int64(8), b.Merge(a).Value())

	// Inputs are untouched.
	assert.Equal(t, int64(5), a.Value())
	assert.Equal(t, int64(3), b.Value())
}

func TestGCounter_InvalidDelta(t *testing.T) {
	c := NewGCounter("a")
	assert.ErrorIs(t, c.Increment(0), ErrInvalidDelta)
	assert.ErrorIs(t, c.Increment(-2), ErrInvalidDelta)
	assert.Zero(t, c.Value())
}

func TestGCounter_ConcurrentIncrement(t *testing.T) {
	c := NewGCounter("a")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Increment(2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), c.Value())
}

func TestPNCounter_Value(t *testing.T) {
	c := NewPNCounter("a")
	require.NoError(t, c.Increment(10))
	require.NoError(t, c.Decrement(3))
	assert.Equal(t, int64(7), c.Value())

	assert.ErrorIs(t, c.Decrement(0), ErrInvalidDelta)
}

func TestPNCounter_MergeSumsNetValues(t *testing.T) {
	a, b := NewPNCounter("a"), NewPNCounter("b")
	require.NoError(t, a.Increment(10))
	require.NoError(t, a.Decrement(3))
	require.NoError(t, b.Increment(4))
	require.NoError(t, b.Decrement(1))

	assert.Equal(t, int64(10), a.Merge(b).Value())
}

func TestPNCounter_Laws(t *testing.T) {
	a, b, c := NewPNCounter("a"), NewPNCounter("b"), NewPNCounter("c")
	require.NoError(t, a.Increment(4))
	require.NoError(t, b.Decrement(2))
	require.NoError(t, c.Increment(9))
	require.NoError(t, c.Decrement(5))

	assert.True(t, a.Merge(b).Equal(b.Merge(a)))
	assert.True(t, a.Merge(b).Merge(c).Equal(a.Merge(b.Merge(c))))
	assert.True(t, c.Merge(c).Equal(c))
}

func TestLWWRegister_LaterWriteWins(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	a, b := NewLWWRegister("a"), NewLWWRegister("b")
	a.SetAt("old", t1)
	b.SetAt("new", t2)

	assert.Equal(t, "new", a.Merge(b).Get())
	assert.Equal(t, "new", b.Merge(a).Get())
}

func TestLWWRegister_TieBreakByWriter(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a, b := NewLWWRegister("agent-a"), NewLWWRegister("agent-b")
	a.SetAt("from-a", ts)
	b.SetAt("from-b", ts)

	ab, ba := a.Merge(b), b.Merge(a)
	assert.Equal(t, "from-b", ab.Get())
	assert.Equal(t, "agent-b", ab.Writer())
	assert.True(t, ab.Equal(ba))
}

func TestLWWRegister_Laws(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, b, c := NewLWWRegister("a"), NewLWWRegister("b"), NewLWWRegister("c")
	a.SetAt(1, base)
	b.SetAt(2, base.Add(time.Minute))
	c.SetAt(3, base.Add(time.Minute))

	assert.True(t, a.Merge(b).Equal(b.Merge(a)))
	assert.True(t, a.Merge(b).Merge(c).Equal(a.Merge(b.Merge(c))))
	assert.True(t, b.Merge(b).Equal(b))
}

func TestLWWRegister_SetUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewLWWRegister("a")
	r.now = func() time.Time { return fixed }

	r.Set("v")
	assert.Equal(t, fixed, r.Timestamp())
	assert.Equal(t, "a", r.Writer())
}

func TestORSet_AddWins(t *testing.T) {
	a, b := NewORSet("a"), NewORSet("b")
	a.Add("x")
	b.Add("x")

	assert.True(t, a.Remove("x"))
	assert.False(t, a.Contains("x"))

	merged := a.Merge(b)
	assert.True(t, merged.Contains("x"))
	assert.True(t, b.Merge(a).Contains("x"))
}

func TestORSet_ObservedRemovePropagates(t *testing.T) {
	a := NewORSet("a")
	a.Add("x")
	b := NewORSet("b").Merge(a)

	b.Remove("x")
	assert.False(t, a.Merge(b).Contains("x"))
	assert.False(t, b.Remove("missing"))
}

func TestORSet_Laws(t *testing.T) {
	a, b, c := NewORSet("a"), NewORSet("b"), NewORSet("c")
	a.Add("x")
	a.Add("y")
	b.Add("y")
	b.Remove("y")
	c.Add("z")

	assert.True(t, a.Merge(b).Equal(b.Merge(a)))
	assert.True(t, a.Merge(b).Merge(c).Equal(a.Merge(b.Merge(c))))
	assert.True(t, a.Merge(a).Equal(a))
	assert.Equal(t, []string{"x", "y", "z"}, a.Merge(b).Merge(c).Elements())
}

func TestORSet_UniqueTags(t *testing.T) {
	s := NewORSet("a")
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		tag := s.Add(fmt.Sprintf("e%d", i%3))
		assert.False(t, seen[tag])
		seen[tag] = true
	}
	assert.Equal(t, 3, s.Len())
}

func TestJSONRoundTripPreservesMergeState(t *testing.T) {
	s := NewORSet("a")
	s.Add("x")
	s.Add("y")
	s.Remove("y")

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := NewORSet("")
	require.NoError(t, json.Unmarshal(data, restored))
	assert.True(t, restored.Equal(s))
	assert.Equal(t, "a", restored.NodeID())

	pn := NewPNCounter("n")
	require.NoError(t, pn.Increment(3))
	require.NoError(t, pn.Decrement(1))
	data, err = json.Marshal(pn)
	require.NoError(t, err)
	var pn2 PNCounter
	require.NoError(t, json.Unmarshal(data, &pn2))
	assert.Equal(t, int64(2), pn2.Value())
}

func TestMergeAs(t *testing.T) {
	a, b := NewGCounter("a"), NewGCounter("b")
	require.NoError(t, a.Increment(2))
	require.NoError(t, b.Increment(3))

	merged, err := MergeAs(KindGCounter, a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(5), merged.(*GCounter).Value())

	_, err = MergeAs(KindORSet, a, b)
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = MergeAs(KindMap, a, b)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"counter":      KindGCounter,
		"pn_counter":   KindPNCounter,
		"set":          KindORSet,
		"MAP":          KindMap,
		"lww_register": KindLWWRegister,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("sequence")
	assert.ErrorIs(t, err, ErrUnknownKind)

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("unknown")))
	assert.Equal(t, KindUnknown, k)
}

func TestTally(t *testing.T) {
	votes := map[string]string{"a": "deploy", "b": "deploy", "c": "wait"}

	res := Tally(votes, SimpleMajority)
	assert.Equal(t, "deploy", res.Decision)
	assert.InDelta(t, 2.0/3.0, res.ApprovalRate, 1e-9)
	assert.True(t, res.Approved)
	assert.Equal(t, 3, res.TotalVotes)

	assert.True(t, Tally(votes, SuperMajority).Approved)
	assert.False(t, Tally(votes, Unanimous).Approved)
}

func TestTally_TieAndEmpty(t *testing.T) {
	res := Tally(map[string]string{"a": "yes", "b": "no"}, SimpleMajority)
	assert.Equal(t, "no", res.Decision)
	assert.InDelta(t, 0.5, res.ApprovalRate, 1e-9)
	assert.True(t, res.Approved)

	empty := Tally(nil, SimpleMajority)
	assert.Empty(t, empty.Decision)
	assert.False(t, empty.Approved)
}

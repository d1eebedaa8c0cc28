// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resolver

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/sipeed/picoswarm/pkg/crdt"
	"github.com/sipeed/picoswarm/pkg/logger"
)

// Resolver reconciles divergent versions of the same key. It holds no
// state besides its strategy and is safe for concurrent use.
type Resolver struct {
	strategy Strategy
}

// New creates a resolver using strategy.
func New(strategy Strategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve picks or builds the surviving version for key. The returned
// version carries resolution details in its Metadata.
func (r *Resolver) Resolve(key string, versions []StateVersion) (StateVersion, error) {
	if len(versions) == 0 {
		return StateVersion{}, fmt.Errorf("%w: key %q", ErrNoVersions, key)
	}
	for _, v := range versions {
		if v.Key != "" && v.Key != key {
			return StateVersion{}, fmt.Errorf("%w: %q vs %q", ErrKeyMismatch, v.Key, key)
		}
	}

	var (
		out StateVersion
		err error
	)
	switch r.strategy {
	case StrategyVectorClock:
		out = resolveVectorClock(versions)
	case StrategyCRDT:
		out, err = resolveCRDT(versions)
	default:
		out = resolveLWW(versions)
	}
	if err != nil {
		return StateVersion{}, fmt.Errorf("resolve %q: %w", key, err)
	}
	out.Key = key

	if out.Fallback() {
		logger.DebugCF("resolver", "Concurrent versions, fell back to last-write-wins", map[string]any{
			"key":        key,
			"candidates": len(versions),
			"winner":     out.AgentID,
		})
	}
	return out, nil
}

func withMeta(v StateVersion, kv map[string]any) StateVersion {
	meta := make(map[string]any, len(v.Metadata)+len(kv))
	maps.Copy(meta, v.Metadata)
	maps.Copy(meta, kv)
	v.Metadata = meta
	return v
}

func resolveLWW(versions []StateVersion) StateVersion {
	return withMeta(latest(versions), map[string]any{
		MetaStrategy:  StrategyLWW.String(),
		MetaDiscarded: len(versions) - 1,
	})
}

// resolveVectorClock returns the version whose clock dominates every other
// candidate. Without a unique dominating clock the writes are concurrent
// and last-write-wins decides.
func resolveVectorClock(versions []StateVersion) StateVersion {
	var dominant []int
	for i, v := range versions {
		wins := true
		for j, o := range versions {
			if i != j && !v.VectorClock.Dominates(o.VectorClock) {
				wins = false
				break
			}
		}
		if wins {
			dominant = append(dominant, i)
		}
	}

	if len(dominant) == 1 {
		return withMeta(versions[dominant[0]], map[string]any{
			MetaStrategy:  StrategyVectorClock.String(),
			MetaDiscarded: len(versions) - 1,
		})
	}

	// No single causal winner. Last-write-wins only picks among the maximal
	// versions; anything causally behind one of them is never restored.
	return withMeta(latest(maximal(versions)), map[string]any{
		MetaStrategy:  StrategyVectorClock.String(),
		MetaDiscarded: len(versions) - 1,
		MetaFallback:  StrategyLWW.String(),
	})
}

// maximal returns the versions no other version strictly dominates.
func maximal(versions []StateVersion) []StateVersion {
	out := make([]StateVersion, 0, len(versions))
	for i, v := range versions {
		behind := false
		for j, o := range versions {
			if i != j && o.VectorClock.Compare(v.VectorClock) == After {
				behind = true
				break
			}
		}
		if !behind {
			out = append(out, v)
		}
	}
	return out
}

func resolveCRDT(versions []StateVersion) (StateVersion, error) {
	kind := crdt.KindUnknown
	for _, v := range versions {
		if v.Kind == crdt.KindUnknown {
			continue
		}
		if kind != crdt.KindUnknown && v.Kind != kind {
			return StateVersion{}, fmt.Errorf("%w: mixed kinds %s and %s", ErrUnsupportedValue, kind, v.Kind)
		}
		kind = v.Kind
	}

	if kind == crdt.KindUnknown {
		return withMeta(latest(versions), map[string]any{
			MetaStrategy:  StrategyCRDT.String(),
			MetaDiscarded: len(versions) - 1,
			MetaFallback:  StrategyLWW.String(),
		}), nil
	}

	value, err := MergeAs(kind, versions)
	if err != nil {
		return StateVersion{}, err
	}

	head := latest(versions)
	clock := VectorClock{}
	var version int64
	for _, v := range versions {
		clock = clock.Merge(v.VectorClock)
		version = max(version, v.Version)
	}

	return StateVersion{
		Value:       value,
		Version:     version,
		Timestamp:   head.Timestamp,
		AgentID:     head.AgentID,
		VectorClock: clock,
		Kind:        kind,
		Metadata: map[string]any{
			MetaStrategy:   StrategyCRDT.String(),
			MetaMergedFrom: len(versions),
		},
	}, nil
}

// DetectConflicts returns, in sorted order, every key on which two or more
// agents disagree by value or version number. perAgent maps agent id to
// that agent's key/version table.
func DetectConflicts(perAgent map[string]map[string]StateVersion) []string {
	byKey := make(map[string][]StateVersion)
	for _, states := range perAgent {
		for key, v := range states {
			byKey[key] = append(byKey[key], v)
		}
	}

	var out []string
	for key, versions := range byKey {
		if len(versions) < 2 {
			continue
		}
		first := versions[0]
		for _, v := range versions[1:] {
			if v.Version != first.Version || !reflect.DeepEqual(v.Value, first.Value) {
				out = append(out, key)
				break
			}
		}
	}
	slices.Sort(out)
	return out
}

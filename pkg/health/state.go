// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package health

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnknownAgent is returned for agents that never sent a heartbeat.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownSwarm is returned for swarms with no tracked agents.
	ErrUnknownSwarm = errors.New("unknown swarm")

	// ErrInvalidThresholds is returned when thresholds are not strictly
	// increasing.
	ErrInvalidThresholds = errors.New("health thresholds must be positive and increasing")
)

// State is the derived liveness of an agent or swarm. Larger is worse.
type State int

const (
	Healthy State = iota
	Degraded
	Critical
	Failed
)

var stateNames = [...]string{"HEALTHY", "DEGRADED", "CRITICAL", "FAILED"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name, case-insensitively.
func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown health state %q", string(b))
}

// Thresholds are elapsed-time boundaries since the last heartbeat. An
// agent is Degraded once Degraded has elapsed, and so on.
type Thresholds struct {
	Degraded time.Duration
	Critical time.Duration
	Failed   time.Duration
}

// DefaultThresholds returns the default boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Degraded: 30 * time.Second,
		Critical: 60 * time.Second,
		Failed:   120 * time.Second,
	}
}

// Validate checks that thresholds are positive and strictly increasing.
func (t Thresholds) Validate() error {
	if t.Degraded <= 0 || t.Critical <= t.Degraded || t.Failed <= t.Critical {
		return fmt.Errorf("%w: degraded=%s critical=%s failed=%s", ErrInvalidThresholds, t.Degraded, t.Critical, t.Failed)
	}
	return nil
}

// Classify maps time since the last heartbeat to a state.
func (t Thresholds) Classify(elapsed time.Duration) State {
	switch {
	case elapsed >= t.Failed:
		return Failed
	case elapsed >= t.Critical:
		return Critical
	case elapsed >= t.Degraded:
		return Degraded
	default:
		return Healthy
	}
}

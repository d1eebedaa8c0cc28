// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sipeed/picoswarm/pkg/logger"
	"github.com/sipeed/picoswarm/pkg/metrics"
)

// ErrRateLimited is reported when an agent's healing budget is spent.
var ErrRateLimited = errors.New("healing rate limited")

// FailureType classifies a failure event.
type FailureType string

const (
	FailureAgentCrash         FailureType = "agent_crash"
	FailureAgentTimeout       FailureType = "agent_timeout"
	FailureDependency         FailureType = "dependency_failure"
	FailureResourceExhaustion FailureType = "resource_exhaustion"
	FailureTaskError          FailureType = "task_error"
)

// Strategy names a healing approach.
type Strategy string

const (
	StrategyNone           Strategy = "none"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
	StrategyDegradation    Strategy = "degradation"
	StrategyProbe          Strategy = "probe"
)

// StrategyFor picks the strategy for a failure type: breakers isolate
// failing agents and dependencies, degradation sheds load on resource
// exhaustion, everything else is probed once. Retrying is the caller's
// decision.
func StrategyFor(t FailureType) Strategy {
	switch t {
	case FailureAgentCrash, FailureAgentTimeout, FailureDependency:
		return StrategyCircuitBreaker
	case FailureResourceExhaustion:
		return StrategyDegradation
	default:
		return StrategyProbe
	}
}

// FailureEvent is a failure reported by a caller.
type FailureEvent struct {
	AgentID string
	SwarmID string
	Type    FailureType
	// Resource is the breaker key for dependency failures. Empty means the
	// agent itself.
	Resource string
	// Usage is the resource usage percent for exhaustion events. Zero means
	// unknown.
	Usage     float64
	Error     string
	Timestamp time.Time
}

// ExecutionContext carries what the caller can offer to recovery.
type ExecutionContext struct {
	// Probe re-runs the failed operation once. Optional.
	Probe func(ctx context.Context) error
}

// HealingResult is the outcome of one Heal call.
type HealingResult struct {
	Success      bool     `json:"success"`
	StrategyUsed Strategy `json:"strategy_used"`
	ActionsTaken []string `json:"actions_taken"`
	DurationMS   int64    `json:"duration_ms"`
	Error        string   `json:"error,omitempty"`
}

// EventStore persists healing events. *metrics.Store implements it.
type EventStore interface {
	StoreHealingEvent(ctx context.Context, e metrics.HealingEvent) error
}

// HealerConfig bounds healing activity.
type HealerConfig struct {
	// AttemptsPerMinute is the sustained healing rate per agent.
	AttemptsPerMinute float64
	// Burst is how many attempts an agent may use at once.
	Burst int
}

// DefaultHealerConfig returns the default healer limits.
func DefaultHealerConfig() HealerConfig {
	return HealerConfig{
		AttemptsPerMinute: 6,
		Burst:             3,
	}
}

// OutcomeFunc observes every healing result.
type OutcomeFunc func(ev FailureEvent, res HealingResult)

// Healer reacts to failure events with the matching strategy and records
// each attempt.
type Healer struct {
	breakers *Breakers
	degrader *Degrader
	events   EventStore
	cfg      HealerConfig
	now      func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	listeners []OutcomeFunc
}

// HealerOption configures a Healer.
type HealerOption func(*Healer)

// WithHealerClock overrides the time source used for rate limiting,
// timestamps and durations.
func WithHealerClock(now func() time.Time) HealerOption {
	return func(h *Healer) { h.now = now }
}

// WithEventStore persists every attempt to s.
func WithEventStore(s EventStore) HealerOption {
	return func(h *Healer) { h.events = s }
}

// NewHealer creates a healer over breakers and degrader.
func NewHealer(breakers *Breakers, degrader *Degrader, cfg HealerConfig, opts ...HealerOption) *Healer {
	def := DefaultHealerConfig()
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = def.AttemptsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	h := &Healer{
		breakers: breakers,
		degrader: degrader,
		cfg:      cfg,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnOutcome registers fn for every healing result.
func (h *Healer) OnOutcome(fn OutcomeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

func (h *Healer) allow(agentID string, at time.Time) bool {
	h.mu.Lock()
	lim, ok := h.limiters[agentID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.cfg.AttemptsPerMinute/60), h.cfg.Burst)
		h.limiters[agentID] = lim
	}
	h.mu.Unlock()
	return lim.AllowN(at, 1)
}

// Heal applies the strategy for ev and persists the attempt. Rate-limited
// calls return immediately with StrategyNone and are not persisted.
func (h *Healer) Heal(ctx context.Context, ev FailureEvent, ec ExecutionContext) HealingResult {
	start := h.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = start
	}

	if !h.allow(ev.AgentID, start) {
		logger.WarnCF("resilience", "Healing throttled", map[string]any{
			"agent_id":     ev.AgentID,
			"failure_type": string(ev.Type),
		})
		return HealingResult{
			StrategyUsed: StrategyNone,
			ActionsTaken: []string{"throttled"},
			Error:        fmt.Sprintf("%s: agent %s", ErrRateLimited, ev.AgentID),
		}
	}

	strategy := StrategyFor(ev.Type)
	var res HealingResult
	switch strategy {
	case StrategyCircuitBreaker:
		res = h.isolate(ctx, ev, ec)
	case StrategyDegradation:
		res = h.shed(ev)
	default:
		res = h.probe(ctx, ec)
	}
	res.StrategyUsed = strategy
	res.DurationMS = h.now().Sub(start).Milliseconds()

	h.persist(ctx, ev, res, start)

	fields := map[string]any{
		"agent_id":     ev.AgentID,
		"failure_type": string(ev.Type),
		"strategy":     string(strategy),
		"success":      res.Success,
		"actions":      len(res.ActionsTaken),
	}
	if res.Success {
		logger.InfoCF("resilience", "Healing applied", fields)
	} else {
		fields["error"] = res.Error
		logger.WarnCF("resilience", "Healing failed", fields)
	}

	h.mu.Lock()
	listeners := h.listeners
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(ev, res)
	}
	return res
}

// isolate records the failure on the agent's (or dependency's) breaker.
// The failure is contained once the circuit is open or a probe succeeds.
func (h *Healer) isolate(ctx context.Context, ev FailureEvent, ec ExecutionContext) HealingResult {
	key := ev.Resource
	if key == "" {
		key = ev.AgentID
	}
	cb := h.breakers.Get(key)
	cb.RecordFailure()

	res := HealingResult{ActionsTaken: []string{"recorded failure on circuit " + key}}
	st := cb.State()
	if st == CircuitOpen {
		res.ActionsTaken = append(res.ActionsTaken,
			fmt.Sprintf("circuit %s open, rejecting calls for %s", key, cb.Config().Timeout))
		res.Success = true
		return res
	}

	if ec.Probe == nil {
		res.ActionsTaken = append(res.ActionsTaken,
			fmt.Sprintf("circuit %s %s, %d/%d failures", key, st, cb.Stats().CurrentFailures, cb.Config().FailureThreshold))
		res.Success = true
		return res
	}

	err := cb.Execute(ctx, ec.Probe)
	switch {
	case err == nil:
		res.ActionsTaken = append(res.ActionsTaken, "probe succeeded")
		res.Success = true
	case errors.Is(err, ErrCircuitOpen):
		res.ActionsTaken = append(res.ActionsTaken, "probe rejected, circuit "+key+" isolating")
		res.Success = true
	default:
		res.ActionsTaken = append(res.ActionsTaken, "probe failed")
		res.Error = err.Error()
		if cb.State() == CircuitOpen {
			res.ActionsTaken = append(res.ActionsTaken, "circuit "+key+" opened")
			res.Success = true
		}
	}
	return res
}

// shed degrades service one level, by observed usage when known.
func (h *Healer) shed(ev FailureEvent) HealingResult {
	var (
		level   Level
		changed bool
	)
	if ev.Usage > 0 {
		level, changed = h.degrader.Observe(ev.Usage)
	} else {
		level, changed = h.degrader.StepDown(string(ev.Type))
	}

	p := ProfileOf(level)
	res := HealingResult{}
	switch {
	case changed:
		res.Success = true
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("degraded to %s (capacity %d%%)", level, p.Capacity))
		if len(p.Disabled) > 0 {
			res.ActionsTaken = append(res.ActionsTaken, "disabled "+strings.Join(p.Disabled, ", "))
		}
	case level == LevelMinimal:
		res.ActionsTaken = append(res.ActionsTaken, "already at "+level.String())
		res.Error = "no lower service level available"
	default:
		res.Success = true
		res.ActionsTaken = append(res.ActionsTaken, fmt.Sprintf("usage %.1f%% within %s limits", ev.Usage, level))
	}
	return res
}

// probe runs the caller's probe once and reports the outcome.
func (h *Healer) probe(ctx context.Context, ec ExecutionContext) HealingResult {
	if ec.Probe == nil {
		return HealingResult{
			ActionsTaken: []string{"no probe supplied"},
			Error:        "nothing to probe",
		}
	}
	res := HealingResult{ActionsTaken: []string{"probe"}}
	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := ec.Probe(ctx); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

func (h *Healer) persist(ctx context.Context, ev FailureEvent, res HealingResult, at time.Time) {
	if h.events == nil {
		return
	}
	err := h.events.StoreHealingEvent(ctx, metrics.HealingEvent{
		ID:          uuid.NewString(),
		AgentID:     ev.AgentID,
		SwarmID:     ev.SwarmID,
		FailureType: string(ev.Type),
		Strategy:    string(res.StrategyUsed),
		Success:     res.Success,
		DurationMS:  res.DurationMS,
		Actions:     res.ActionsTaken,
		Error:       res.Error,
		Timestamp:   at,
	})
	if err != nil {
		logger.ErrorCF("resilience", "Failed to persist healing event", map[string]any{
			"agent_id": ev.AgentID,
			"error":    err.Error(),
		})
	}
}

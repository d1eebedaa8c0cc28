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
	"slices"
	"sync"
	"time"

	"github.com/sipeed/picoswarm/pkg/logger"
)

// ErrCircuitOpen is returned when a breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitState is the state of a breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("CIRCUIT(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxProbes caps concurrent calls while half-open.
	HalfOpenMaxProbes int
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		Timeout:           60 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.HalfOpenMaxProbes <= 0 {
		c.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return c
}

// BreakerStats is a snapshot of breaker counters.
type BreakerStats struct {
	Key             string       `json:"key"`
	State           CircuitState `json:"state"`
	TotalCalls      int64        `json:"total_calls"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejections int64        `json:"total_rejections"`
	CurrentFailures int          `json:"current_failures"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// TransitionFunc observes breaker state changes. It runs outside the
// breaker's lock.
type TransitionFunc func(key string, from, to CircuitState)

// BreakerOption configures a breaker or a registry.
type BreakerOption func(*breakerOptions)

type breakerOptions struct {
	now          func() time.Time
	onTransition []TransitionFunc
}

// WithBreakerClock overrides the time source.
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(o *breakerOptions) { o.now = now }
}

// WithTransitionHook registers fn for every state change.
func WithTransitionHook(fn TransitionFunc) BreakerOption {
	return func(o *breakerOptions) { o.onTransition = append(o.onTransition, fn) }
}

func buildBreakerOptions(opts []BreakerOption) breakerOptions {
	o := breakerOptions{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type stateChange struct {
	from, to CircuitState
}

// CircuitBreaker guards calls to one agent or resource. Every state check,
// transition and outcome record happens inside a single critical section.
type CircuitBreaker struct {
	key  string
	cfg  BreakerConfig
	opts breakerOptions

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	halfOpenActive  int
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// NewCircuitBreaker creates a closed breaker for key.
func NewCircuitBreaker(key string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	o := buildBreakerOptions(opts)
	return newBreaker(key, cfg.withDefaults(), o)
}

func newBreaker(key string, cfg BreakerConfig, o breakerOptions) *CircuitBreaker {
	return &CircuitBreaker{
		key:             key,
		cfg:             cfg,
		opts:            o,
		state:           CircuitClosed,
		lastStateChange: o.now(),
	}
}

// Key returns the guarded key.
func (cb *CircuitBreaker) Key() string {
	return cb.key
}

// Config returns the breaker settings.
func (cb *CircuitBreaker) Config() BreakerConfig {
	return cb.cfg
}

// State returns the current state, moving OPEN to HALF_OPEN once the
// timeout has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	change := cb.refreshLocked()
	st := cb.state
	cb.mu.Unlock()

	cb.notify(change)
	return st
}

// refreshLocked performs the timed OPEN to HALF_OPEN move.
func (cb *CircuitBreaker) refreshLocked() *stateChange {
	if cb.state == CircuitOpen && cb.opts.now().Sub(cb.lastStateChange) >= cb.cfg.Timeout {
		return cb.transitionLocked(CircuitHalfOpen)
	}
	return nil
}

// Allow reports whether a call may proceed. When it returns true the
// caller must invoke release once the call has finished and its outcome
// has been recorded.
func (cb *CircuitBreaker) Allow() (bool, func()) {
	cb.mu.Lock()
	change := cb.refreshLocked()
	cb.totalCalls++

	var (
		allowed bool
		release func()
	)
	switch cb.state {
	case CircuitClosed:
		allowed, release = true, func() {}
	case CircuitHalfOpen:
		if cb.halfOpenActive < cb.cfg.HalfOpenMaxProbes {
			cb.halfOpenActive++
			allowed, release = true, cb.releaseProbe
		}
	}
	if !allowed {
		cb.totalRejections++
	}
	cb.mu.Unlock()

	cb.notify(change)
	return allowed, release
}

func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	if cb.halfOpenActive > 0 {
		cb.halfOpenActive--
	}
	cb.mu.Unlock()
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var change *stateChange
	cb.failures = 0
	if cb.state == CircuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			change = cb.transitionLocked(CircuitClosed)
		}
	}
	cb.mu.Unlock()

	cb.notify(change)
}

// RecordFailure records a failed call. Any failure while half-open
// reopens the circuit and restarts the timeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	var change *stateChange
	cb.totalFailures++
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			change = cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		change = cb.transitionLocked(CircuitOpen)
	case CircuitOpen:
		cb.lastStateChange = cb.opts.now()
	}
	cb.mu.Unlock()

	cb.notify(change)
}

// Record records an outcome.
func (cb *CircuitBreaker) Record(success bool) {
	if success {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// Rejected calls return ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	allowed, release := cb.Allow()
	if !allowed {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.key)
	}
	defer release()

	if err := fn(ctx); err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// transitionLocked changes state and resets the streak counters.
func (cb *CircuitBreaker) transitionLocked(to CircuitState) *stateChange {
	from := cb.state
	cb.state = to
	cb.lastStateChange = cb.opts.now()
	cb.failures = 0
	cb.successes = 0
	if to != CircuitHalfOpen {
		cb.halfOpenActive = 0
	}
	return &stateChange{from: from, to: to}
}

func (cb *CircuitBreaker) notify(change *stateChange) {
	if change == nil {
		return
	}
	fields := map[string]any{
		"key":  cb.key,
		"from": change.from.String(),
		"to":   change.to.String(),
	}
	if change.to == CircuitOpen {
		logger.WarnCF("resilience", "Circuit opened", fields)
	} else {
		logger.InfoCF("resilience", "Circuit state changed", fields)
	}
	for _, fn := range cb.opts.onTransition {
		fn(cb.key, change.from, change.to)
	}
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{
		Key:             cb.key,
		State:           cb.state,
		TotalCalls:      cb.totalCalls,
		TotalFailures:   cb.totalFailures,
		TotalRejections: cb.totalRejections,
		CurrentFailures: cb.failures,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var change *stateChange
	if cb.state != CircuitClosed {
		change = cb.transitionLocked(CircuitClosed)
	}
	cb.failures = 0
	cb.halfOpenActive = 0
	cb.mu.Unlock()

	cb.notify(change)
}

// Breakers is a registry of breakers keyed by agent or resource. Breakers
// are created on first use with a shared configuration.
type Breakers struct {
	cfg  BreakerConfig
	opts breakerOptions

	mu sync.Mutex
	m  map[string]*CircuitBreaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig, opts ...BreakerOption) *Breakers {
	return &Breakers{
		cfg:  cfg.withDefaults(),
		opts: buildBreakerOptions(opts),
		m:    make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it if needed.
func (b *Breakers) Get(key string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.m[key]
	if !ok {
		cb = newBreaker(key, b.cfg, b.opts)
		b.m[key] = cb
	}
	return cb
}

// Allow is Get(key).Allow().
func (b *Breakers) Allow(key string) (bool, func()) {
	return b.Get(key).Allow()
}

// Record is Get(key).Record(success).
func (b *Breakers) Record(key string, success bool) {
	b.Get(key).Record(success)
}

// Execute is Get(key).Execute(ctx, fn).
func (b *Breakers) Execute(ctx context.Context, key string, fn func(context.Context) error) error {
	return b.Get(key).Execute(ctx, fn)
}

// Keys returns the registered keys in order.
func (b *Breakers) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.m))
	for k := range b.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Stats returns a snapshot of every breaker, sorted by key.
func (b *Breakers) Stats() []BreakerStats {
	keys := b.Keys()
	out := make([]BreakerStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, b.Get(k).Stats())
	}
	return out
}

// Config returns the shared breaker settings.
func (b *Breakers) Config() BreakerConfig {
	return b.cfg
}

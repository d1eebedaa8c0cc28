// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package resilience

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sipeed/picoswarm/pkg/logger"
)

// ErrInvalidDegradation is returned for malformed degrader settings.
var ErrInvalidDegradation = errors.New("invalid degradation config")

// Level is a graded service level. Larger is more degraded.
type Level int

const (
	LevelFull Level = iota
	LevelReduced1
	LevelReduced2
	LevelReduced3
	LevelMinimal
)

var levelNames = [...]string{"FULL", "REDUCED_1", "REDUCED_2", "REDUCED_3", "MINIMAL"}

func (l Level) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// MarshalText encodes the level name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Features that degradation switches off, cheapest first.
const (
	FeatureHealingAnalytics = "healing_analytics"
	FeatureDetailedMetrics  = "detailed_metrics"
	FeatureMeshQueries      = "mesh_queries"
	FeatureBroadcast        = "broadcast"
	FeatureNewTasks         = "new_tasks"
)

// Profile is what a level allows.
type Profile struct {
	Level    Level    `json:"level"`
	Capacity int      `json:"capacity_percent"`
	Disabled []string `json:"disabled_features"`
}

var profiles = [...]Profile{
	{Level: LevelFull, Capacity: 100},
	{Level: LevelReduced1, Capacity: 80, Disabled: []string{FeatureHealingAnalytics}},
	{Level: LevelReduced2, Capacity: 60, Disabled: []string{FeatureHealingAnalytics, FeatureDetailedMetrics}},
	{Level: LevelReduced3, Capacity: 40, Disabled: []string{FeatureHealingAnalytics, FeatureDetailedMetrics, FeatureMeshQueries}},
	{Level: LevelMinimal, Capacity: 20, Disabled: []string{FeatureHealingAnalytics, FeatureDetailedMetrics, FeatureMeshQueries, FeatureBroadcast, FeatureNewTasks}},
}

// ProfileOf returns the profile of l.
func ProfileOf(l Level) Profile {
	p := profiles[l]
	p.Disabled = slices.Clone(p.Disabled)
	return p
}

// DegraderConfig holds the usage thresholds, in percent, that move the
// level down from FULL, REDUCED_1, REDUCED_2 and REDUCED_3 respectively.
type DegraderConfig struct {
	Thresholds [4]float64
	// Hysteresis is how far below a level's threshold usage must fall
	// before that level is left again.
	Hysteresis float64
}

// DefaultDegraderConfig returns thresholds 60/75/85/95 with 5 points of
// hysteresis.
func DefaultDegraderConfig() DegraderConfig {
	return DegraderConfig{
		Thresholds: [4]float64{60, 75, 85, 95},
		Hysteresis: 5,
	}
}

// Validate checks that thresholds lie in (0, 100] and strictly increase.
func (c DegraderConfig) Validate() error {
	prev := 0.0
	for i, t := range c.Thresholds {
		if t <= prev || t > 100 {
			return fmt.Errorf("%w: threshold %d = %.1f", ErrInvalidDegradation, i, t)
		}
		prev = t
	}
	if c.Hysteresis < 0 {
		return fmt.Errorf("%w: negative hysteresis", ErrInvalidDegradation)
	}
	return nil
}

// LevelChangeFunc observes level changes. It runs outside the degrader's
// lock.
type LevelChangeFunc func(from, to Level, reason string)

// Degrader moves between service levels one step at a time.
type Degrader struct {
	cfg DegraderConfig

	mu        sync.Mutex
	level     Level
	lastUsage float64
	listeners []LevelChangeFunc
}

// NewDegrader creates a degrader at LevelFull.
func NewDegrader(cfg DegraderConfig) (*Degrader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Degrader{cfg: cfg}, nil
}

// OnChange registers fn for every level change.
func (d *Degrader) OnChange(fn LevelChangeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Observe feeds a resource usage percentage. The level moves at most one
// step: down when usage reaches the current level's next threshold, up
// when usage falls below the threshold that entered the current level
// minus hysteresis. It returns the resulting level and whether it changed.
func (d *Degrader) Observe(usage float64) (Level, bool) {
	d.mu.Lock()
	d.lastUsage = usage
	from := d.level
	to := from
	switch {
	case from < LevelMinimal && usage >= d.cfg.Thresholds[from]:
		to = from + 1
	case from > LevelFull && usage < d.cfg.Thresholds[from-1]-d.cfg.Hysteresis:
		to = from - 1
	}
	d.level = to
	listeners := d.listeners
	d.mu.Unlock()

	if to == from {
		return to, false
	}
	d.announce(listeners, from, to, fmt.Sprintf("usage %.1f%%", usage))
	return to, true
}

// StepDown degrades one level regardless of usage. It reports false at
// LevelMinimal.
func (d *Degrader) StepDown(reason string) (Level, bool) {
	return d.step(+1, reason)
}

// StepUp recovers one level regardless of usage. It reports false at
// LevelFull.
func (d *Degrader) StepUp(reason string) (Level, bool) {
	return d.step(-1, reason)
}

func (d *Degrader) step(delta Level, reason string) (Level, bool) {
	d.mu.Lock()
	from := d.level
	to := from + delta
	if to < LevelFull || to > LevelMinimal {
		d.mu.Unlock()
		return from, false
	}
	d.level = to
	listeners := d.listeners
	d.mu.Unlock()

	d.announce(listeners, from, to, reason)
	return to, true
}

func (d *Degrader) announce(listeners []LevelChangeFunc, from, to Level, reason string) {
	fields := map[string]any{
		"from":     from.String(),
		"to":       to.String(),
		"capacity": profiles[to].Capacity,
		"reason":   reason,
	}
	if to > from {
		logger.WarnCF("resilience", "Service degraded", fields)
	} else {
		logger.InfoCF("resilience", "Service recovered", fields)
	}
	for _, fn := range listeners {
		fn(from, to, reason)
	}
}

// Level returns the current level.
func (d *Degrader) Level() Level {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// LastUsage returns the most recently observed usage.
func (d *Degrader) LastUsage() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUsage
}

// Profile returns the current level's profile.
func (d *Degrader) Profile() Profile {
	return ProfileOf(d.Level())
}

// Capacity returns the capacity percent of the current level.
func (d *Degrader) Capacity() int {
	return profiles[d.Level()].Capacity
}

// FeatureEnabled reports whether name is allowed at the current level.
func (d *Degrader) FeatureEnabled(name string) bool {
	return !slices.Contains(profiles[d.Level()].Disabled, name)
}

// DisabledFeatures returns the features switched off at the current level.
func (d *Degrader) DisabledFeatures() []string {
	return slices.Clone(profiles[d.Level()].Disabled)
}

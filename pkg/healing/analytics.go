// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package healing

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sipeed/picoswarm/pkg/logger"
	"github.com/sipeed/picoswarm/pkg/metrics"
)

// Trend is the direction of a strategy's success rate.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Priority orders recommendations.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Config tunes the analysis.
type Config struct {
	// Window is the number of recent attempts compared against the
	// preceding Window attempts when computing a trend.
	Window int `json:"window" yaml:"window"`
	// TrendDelta is the success-rate change that counts as a trend.
	TrendDelta float64 `json:"trend_delta" yaml:"trend_delta"`
	// MinAttempts is needed before a strategy's success rate is judged.
	MinAttempts int `json:"min_attempts" yaml:"min_attempts"`
	// LowSuccessRate flags strategies below it.
	LowSuccessRate float64 `json:"low_success_rate" yaml:"low_success_rate"`
	// SlowRecovery flags failure types whose MTTR exceeds it.
	SlowRecovery time.Duration `json:"slow_recovery" yaml:"slow_recovery"`
	// RecurringThreshold is the failure count that makes an agent recurring.
	RecurringThreshold int `json:"recurring_threshold" yaml:"recurring_threshold"`
	// ClusterGap is the largest gap between events of one timing cluster.
	ClusterGap time.Duration `json:"cluster_gap" yaml:"cluster_gap"`
	// ClusterMinSize is the smallest reported cluster.
	ClusterMinSize int `json:"cluster_min_size" yaml:"cluster_min_size"`
	// TopN bounds the most-frequent failure type list.
	TopN int `json:"top_n" yaml:"top_n"`
}

// DefaultConfig returns the default analysis settings.
func DefaultConfig() Config {
	return Config{
		Window:             10,
		TrendDelta:         0.1,
		MinAttempts:        5,
		LowSuccessRate:     0.5,
		SlowRecovery:       30 * time.Second,
		RecurringThreshold: 3,
		ClusterGap:         5 * time.Minute,
		ClusterMinSize:     3,
		TopN:               5,
	}
}

// StrategyStats describes one strategy's effectiveness.
type StrategyStats struct {
	Name          string  `json:"name" yaml:"name"`
	Attempts      int     `json:"attempts" yaml:"attempts"`
	Successes     int     `json:"successes" yaml:"successes"`
	SuccessRate   float64 `json:"success_rate" yaml:"success_rate"`
	Trend         Trend   `json:"trend" yaml:"trend"`
	AvgDurationMS float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
}

// Count is a labelled tally.
type Count struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

// Cluster is a burst of events close together in time.
type Cluster struct {
	Start  time.Time `json:"start" yaml:"start"`
	End    time.Time `json:"end" yaml:"end"`
	Events int       `json:"events" yaml:"events"`
}

// Patterns summarizes failure history.
type Patterns struct {
	TopFailureTypes []Count   `json:"top_failure_types" yaml:"top_failure_types"`
	RecurringAgents []Count   `json:"recurring_agents" yaml:"recurring_agents"`
	TimingClusters  []Cluster `json:"timing_clusters" yaml:"timing_clusters"`
}

// Recommendation is a tuning suggestion.
type Recommendation struct {
	Priority Priority `json:"priority" yaml:"priority"`
	Target   string   `json:"target" yaml:"target"`
	Message  string   `json:"message" yaml:"message"`
}

// Report is the result of an analysis.
type Report struct {
	GeneratedAt        time.Time                `json:"generated_at" yaml:"generated_at"`
	PeriodStart        time.Time                `json:"period_start" yaml:"period_start"`
	PeriodEnd          time.Time                `json:"period_end" yaml:"period_end"`
	TotalEvents        int                      `json:"total_events" yaml:"total_events"`
	Successes          int                      `json:"successes" yaml:"successes"`
	OverallSuccessRate float64                  `json:"overall_success_rate" yaml:"overall_success_rate"`
	Strategies         []StrategyStats          `json:"strategies" yaml:"strategies"`
	MTTR               time.Duration            `json:"mttr_ns" yaml:"mttr"`
	MTTRByFailure      map[string]time.Duration `json:"mttr_by_failure_ns" yaml:"mttr_by_failure"`
	Patterns           Patterns                 `json:"patterns" yaml:"patterns"`
	Recommendations    []Recommendation         `json:"recommendations" yaml:"recommendations"`
}

// EventSource supplies healing history. *metrics.Store implements it.
type EventSource interface {
	GetHealingEvents(ctx context.Context, f metrics.Filter) ([]metrics.HealingEvent, error)
}

// Analyzer turns healing history into a Report.
type Analyzer struct {
	cfg Config
	now func() time.Time
}

// NewAnalyzer creates an analyzer. Zero fields of cfg take defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.TrendDelta <= 0 {
		cfg.TrendDelta = def.TrendDelta
	}
	if cfg.MinAttempts <= 0 {
		cfg.MinAttempts = def.MinAttempts
	}
	if cfg.LowSuccessRate <= 0 {
		cfg.LowSuccessRate = def.LowSuccessRate
	}
	if cfg.SlowRecovery <= 0 {
		cfg.SlowRecovery = def.SlowRecovery
	}
	if cfg.RecurringThreshold <= 0 {
		cfg.RecurringThreshold = def.RecurringThreshold
	}
	if cfg.ClusterGap <= 0 {
		cfg.ClusterGap = def.ClusterGap
	}
	if cfg.ClusterMinSize <= 0 {
		cfg.ClusterMinSize = def.ClusterMinSize
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	return &Analyzer{cfg: cfg, now: time.Now}
}

// Load reads events recorded at or after since from src and analyzes them.
func (a *Analyzer) Load(ctx context.Context, src EventSource, since time.Time) (*Report, error) {
	events, err := src.GetHealingEvents(ctx, metrics.Filter{Since: since})
	if err != nil {
		return nil, fmt.Errorf("load healing events: %w", err)
	}
	return a.Analyze(events), nil
}

// Analyze builds a report from events in any order.
func (a *Analyzer) Analyze(events []metrics.HealingEvent) *Report {
	sorted := sortedByTime(events)
	rep := &Report{
		GeneratedAt:   a.now(),
		TotalEvents:   len(sorted),
		MTTRByFailure: make(map[string]time.Duration),
	}
	if len(sorted) == 0 {
		return rep
	}
	rep.PeriodStart = sorted[0].Timestamp
	rep.PeriodEnd = sorted[len(sorted)-1].Timestamp

	for _, e := range sorted {
		if e.Success {
			rep.Successes++
		}
	}
	rep.OverallSuccessRate = ratio(rep.Successes, rep.TotalEvents)
	rep.Strategies = a.strategies(sorted)
	rep.MTTR, rep.MTTRByFailure = mttr(sorted)
	rep.Patterns = a.patterns(sorted)
	rep.Recommendations = a.recommend(rep)

	logger.DebugCF("healing", "Healing history analyzed", map[string]any{
		"events":          rep.TotalEvents,
		"success_rate":    rep.OverallSuccessRate,
		"recommendations": len(rep.Recommendations),
	})
	return rep
}

func (a *Analyzer) strategies(events []metrics.HealingEvent) []StrategyStats {
	by := make(map[string][]metrics.HealingEvent)
	for _, e := range events {
		by[e.Strategy] = append(by[e.Strategy], e)
	}

	out := make([]StrategyStats, 0, len(by))
	for name, evs := range by {
		st := StrategyStats{Name: name, Attempts: len(evs)}
		var total int64
		for _, e := range evs {
			if e.Success {
				st.Successes++
			}
			total += e.DurationMS
		}
		st.SuccessRate = ratio(st.Successes, st.Attempts)
		st.AvgDurationMS = float64(total) / float64(len(evs))
		st.Trend = a.trend(evs)
		out = append(out, st)
	}
	slices.SortFunc(out, func(x, y StrategyStats) int { return strings.Compare(x.Name, y.Name) })
	return out
}

// trendEpsilon absorbs float error so a delta of exactly TrendDelta counts.
const trendEpsilon = 1e-9

// trend compares the success rate of the latest Window attempts with the
// Window attempts before them. Without a full preceding window the trend
// is stable.
func (a *Analyzer) trend(evs []metrics.HealingEvent) Trend {
	w := a.cfg.Window
	if len(evs) < 2*w {
		return TrendStable
	}
	recent := evs[len(evs)-w:]
	previous := evs[len(evs)-2*w : len(evs)-w]
	delta := successRate(recent) - successRate(previous)
	switch {
	case delta >= a.cfg.TrendDelta-trendEpsilon:
		return TrendImproving
	case delta <= -a.cfg.TrendDelta+trendEpsilon:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// mttr is the mean duration of successful recoveries, overall and per
// failure type.
func mttr(events []metrics.HealingEvent) (time.Duration, map[string]time.Duration) {
	type acc struct {
		sum int64
		n   int64
	}
	var all acc
	by := make(map[string]*acc)
	for _, e := range events {
		if !e.Success {
			continue
		}
		all.sum += e.DurationMS
		all.n++
		a := by[e.FailureType]
		if a == nil {
			a = &acc{}
			by[e.FailureType] = a
		}
		a.sum += e.DurationMS
		a.n++
	}

	out := make(map[string]time.Duration, len(by))
	for k, a := range by {
		out[k] = time.Duration(a.sum/a.n) * time.Millisecond
	}
	if all.n == 0 {
		return 0, out
	}
	return time.Duration(all.sum/all.n) * time.Millisecond, out
}

func (a *Analyzer) patterns(events []metrics.HealingEvent) Patterns {
	types := make(map[string]int)
	agents := make(map[string]int)
	for _, e := range events {
		types[e.FailureType]++
		agents[e.AgentID]++
	}

	p := Patterns{
		TopFailureTypes: []Count{},
		RecurringAgents: []Count{},
		TimingClusters:  []Cluster{},
	}
	top := rankCounts(types)
	if len(top) > a.cfg.TopN {
		top = top[:a.cfg.TopN]
	}
	p.TopFailureTypes = append(p.TopFailureTypes, top...)
	for _, c := range rankCounts(agents) {
		if c.Count >= a.cfg.RecurringThreshold {
			p.RecurringAgents = append(p.RecurringAgents, c)
		}
	}
	p.TimingClusters = append(p.TimingClusters, a.clusters(events)...)
	return p
}

// clusters groups time-sorted events whose gaps are at most ClusterGap.
func (a *Analyzer) clusters(events []metrics.HealingEvent) []Cluster {
	var (
		out []Cluster
		cur Cluster
	)
	flush := func() {
		if cur.Events >= a.cfg.ClusterMinSize {
			out = append(out, cur)
		}
	}
	for i, e := range events {
		if i > 0 && e.Timestamp.Sub(cur.End) <= a.cfg.ClusterGap {
			cur.End = e.Timestamp
			cur.Events++
			continue
		}
		if i > 0 {
			flush()
		}
		cur = Cluster{Start: e.Timestamp, End: e.Timestamp, Events: 1}
	}
	if len(events) > 0 {
		flush()
	}
	return out
}

func (a *Analyzer) recommend(rep *Report) []Recommendation {
	var out []Recommendation

	for _, st := range rep.Strategies {
		if st.Attempts >= a.cfg.MinAttempts && st.SuccessRate < a.cfg.LowSuccessRate {
			out = append(out, Recommendation{
				Priority: PriorityHigh,
				Target:   st.Name,
				Message:  fmt.Sprintf("%s for strategy %s (success rate %.0f%% over %d attempts)", tuningHint(st.Name), st.Name, st.SuccessRate*100, st.Attempts),
			})
		}
		if st.Trend == TrendDegrading {
			out = append(out, Recommendation{
				Priority: PriorityMedium,
				Target:   st.Name,
				Message:  fmt.Sprintf("strategy %s trending worse over the last %d attempts", st.Name, a.cfg.Window),
			})
		}
	}

	for _, ft := range sortedKeys(rep.MTTRByFailure) {
		if d := rep.MTTRByFailure[ft]; d > a.cfg.SlowRecovery {
			out = append(out, Recommendation{
				Priority: PriorityMedium,
				Target:   ft,
				Message:  fmt.Sprintf("failure type %s takes %s to recover on average", ft, d),
			})
		}
	}

	for _, c := range rep.Patterns.RecurringAgents {
		prio := PriorityLow
		if c.Count >= 2*a.cfg.RecurringThreshold {
			prio = PriorityMedium
		}
		out = append(out, Recommendation{
			Priority: prio,
			Target:   c.Name,
			Message:  fmt.Sprintf("agent %s needed healing %d times; investigate its workload", c.Name, c.Count),
		})
	}

	slices.SortStableFunc(out, func(x, y Recommendation) int {
		return cmp.Compare(x.Priority.rank(), y.Priority.rank())
	})
	return out
}

func tuningHint(strategy string) string {
	switch strategy {
	case "circuit_breaker":
		return "lower failure_threshold"
	case "degradation":
		return "lower degradation thresholds"
	case "probe":
		return "check the failing dependency or switch strategy"
	default:
		return "review configuration"
	}
}

func sortedByTime(events []metrics.HealingEvent) []metrics.HealingEvent {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(x, y metrics.HealingEvent) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return out
}

func rankCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	slices.SortFunc(out, func(x, y Count) int {
		if c := cmp.Compare(y.Count, x.Count); c != 0 {
			return c
		}
		return strings.Compare(x.Name, y.Name)
	})
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func successRate(evs []metrics.HealingEvent) float64 {
	n := 0
	for _, e := range evs {
		if e.Success {
			n++
		}
	}
	return ratio(n, len(evs))
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

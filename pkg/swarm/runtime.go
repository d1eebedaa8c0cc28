// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipeed/picoswarm/pkg/config"
	"github.com/sipeed/picoswarm/pkg/healing"
	"github.com/sipeed/picoswarm/pkg/health"
	"github.com/sipeed/picoswarm/pkg/logger"
	"github.com/sipeed/picoswarm/pkg/metrics"
	"github.com/sipeed/picoswarm/pkg/resilience"
	"github.com/sipeed/picoswarm/pkg/telemetry"
	"github.com/sipeed/picoswarm/pkg/topology"
)

// MetricHeartbeat is the agent metric type written for every heartbeat.
const MetricHeartbeat = "heartbeat"

// ErrFeatureDisabled is returned when degradation has switched a feature off.
var ErrFeatureDisabled = errors.New("feature disabled at current service level")

// Runtime wires the observability and resilience subsystems together from
// one configuration.
type Runtime struct {
	cfg *config.Config
	now func() time.Time

	Store     *metrics.Store
	Collector *metrics.Collector
	Monitor   *health.Monitor
	Reporter  *health.Reporter
	Breakers  *resilience.Breakers
	Degrader  *resilience.Degrader
	Healer    *resilience.Healer
	Analyzer  *healing.Analyzer
	Telemetry *telemetry.Recorder
	Registry  *prometheus.Registry
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the time source of every subsystem.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// WithRegistry registers telemetry on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Runtime) { r.Registry = reg }
}

// New opens the metrics store and builds every subsystem. Call Close when
// done.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.Registry == nil {
		r.Registry = prometheus.NewRegistry()
	}

	var err error
	r.Telemetry, err = telemetry.New(r.Registry, cfg.Metrics.Namespace)
	if err != nil {
		return nil, err
	}

	r.Store, err = metrics.Open(cfg.MetricsDBPath(), metrics.WithClock(r.now))
	if err != nil {
		return nil, err
	}

	r.Monitor, err = health.NewMonitor(Thresholds(cfg.Heartbeat))
	if err != nil {
		r.Store.Close()
		return nil, err
	}
	r.Monitor.OnTransition(r.Telemetry.HealthTransition)

	r.Reporter = health.NewReporter(r.Monitor, r.Store, health.ReporterConfig{
		AlertCooldown: cfg.Heartbeat.AlertCooldown.Duration,
		StatsWindow:   cfg.Heartbeat.StatsWindow.Duration,
		DegradedHold:  cfg.Heartbeat.AlertCooldown.Duration,
	}, health.WithReporterClock(r.now))

	r.Collector = metrics.NewCollector(r.Store, metrics.CollectorConfig{
		BatchSize:     cfg.Metrics.BatchSize,
		FlushInterval: cfg.Metrics.FlushInterval.Duration,
		MaxPending:    cfg.Metrics.MaxPending,
	}, r.Reporter)

	r.Breakers = resilience.NewBreakers(BreakerConfig(cfg.CircuitBreaker),
		resilience.WithBreakerClock(r.now),
		resilience.WithTransitionHook(r.Telemetry.CircuitTransition))

	r.Degrader, err = resilience.NewDegrader(DegraderConfig(cfg.Degradation))
	if err != nil {
		r.Store.Close()
		return nil, err
	}
	r.Degrader.OnChange(r.Telemetry.LevelChanged)

	r.Healer = resilience.NewHealer(r.Breakers, r.Degrader, resilience.HealerConfig{
		AttemptsPerMinute: cfg.Healing.AttemptsPerMinute,
		Burst:             cfg.Healing.Burst,
	}, resilience.WithHealerClock(r.now), resilience.WithEventStore(r.Store))
	r.Healer.OnOutcome(r.Telemetry.HealingOutcome)
	r.Monitor.OnTransition(r.healUnresponsive)

	r.Analyzer = healing.NewAnalyzer(healing.Config{
		Window:             cfg.Healing.TrendWindow,
		MinAttempts:        cfg.Healing.MinAttempts,
		LowSuccessRate:     cfg.Healing.LowSuccessRate,
		RecurringThreshold: cfg.Healing.RecurringThreshold,
	})

	logger.InfoCF("swarm", "Runtime ready", map[string]any{
		"db":    r.Store.Path(),
		"level": r.Degrader.Level().String(),
	})
	return r, nil
}

// Thresholds converts the heartbeat section.
func Thresholds(c config.HeartbeatConfig) health.Thresholds {
	return health.Thresholds{
		Degraded: c.DegradedAfter.Duration,
		Critical: c.CriticalAfter.Duration,
		Failed:   c.FailedAfter.Duration,
	}
}

// BreakerConfig converts the circuit breaker section.
func BreakerConfig(c config.CircuitBreakerConfig) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:  c.FailureThreshold,
		SuccessThreshold:  c.SuccessThreshold,
		Timeout:           c.Timeout.Duration,
		HalfOpenMaxProbes: c.HalfOpenMaxProbes,
	}
}

// DegraderConfig converts the degradation section.
func DegraderConfig(c config.DegradationConfig) resilience.DegraderConfig {
	var dc resilience.DegraderConfig
	copy(dc.Thresholds[:], c.Thresholds)
	dc.Hysteresis = c.Hysteresis
	return dc
}

// Start runs the periodic collector flush and health checker.
func (r *Runtime) Start(ctx context.Context) {
	r.Collector.Start(ctx)
	r.Monitor.Start(ctx, r.cfg.Heartbeat.CheckInterval.Duration)
	logger.InfoC("swarm", "Runtime started")
}

// Close stops background work, flushes buffered metrics and closes the
// store.
func (r *Runtime) Close(ctx context.Context) error {
	r.Monitor.Stop()
	flushErr := r.Collector.Close(ctx)
	closeErr := r.Store.Close()
	logger.InfoC("swarm", "Runtime stopped")
	return errors.Join(flushErr, closeErr)
}

// Heartbeat records a liveness signal for agentID.
func (r *Runtime) Heartbeat(agentID, swarmID string) {
	at := r.now()
	r.Monitor.Heartbeat(agentID, swarmID, at)
	r.Collector.RecordAgent(metrics.AgentMetric{
		AgentID:    agentID,
		SwarmID:    swarmID,
		MetricType: MetricHeartbeat,
		Value:      1,
		Timestamp:  at,
	})
}

// RecordTask buffers a task metric. Metadata is dropped while detailed
// metrics are degraded away.
func (r *Runtime) RecordTask(m metrics.TaskMetric) {
	if !r.Degrader.FeatureEnabled(resilience.FeatureDetailedMetrics) {
		m.Metadata = nil
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = r.now()
	}
	r.Collector.RecordTask(m)
}

// ReportFailure hands a failure to the healer.
func (r *Runtime) ReportFailure(ctx context.Context, ev resilience.FailureEvent, ec resilience.ExecutionContext) resilience.HealingResult {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	return r.Healer.Heal(ctx, ev, ec)
}

// healUnresponsive reports an agent that has gone critical or failed as a
// timeout, which trips the agent's circuit.
func (r *Runtime) healUnresponsive(tr health.Transition) {
	if tr.To < health.Critical || tr.To <= tr.From {
		return
	}
	res := r.Healer.Heal(context.Background(), resilience.FailureEvent{
		AgentID:   tr.AgentID,
		SwarmID:   tr.SwarmID,
		Type:      resilience.FailureAgentTimeout,
		Timestamp: tr.At,
	}, resilience.ExecutionContext{})
	if res.Error != "" {
		logger.WarnCF("swarm", "Healing unresponsive agent failed", map[string]any{
			"agent_id": tr.AgentID,
			"state":    tr.To.String(),
			"error":    res.Error,
		})
	}
}

// RestoreHeartbeats replays the latest stored heartbeat of every agent seen
// since the given time into the monitor. It returns the number of agents
// restored.
func (r *Runtime) RestoreHeartbeats(ctx context.Context, swarmID string, since time.Time) (int, error) {
	equals := map[string]any{"metric_type": MetricHeartbeat}
	if swarmID != "" {
		equals["swarm_id"] = swarmID
	}
	rows, err := r.Store.GetAgentMetrics(ctx, metrics.Filter{Equals: equals, Since: since})
	if err != nil {
		return 0, err
	}

	latest := make(map[string]metrics.AgentMetric)
	for _, m := range rows {
		if prev, ok := latest[m.AgentID]; !ok || m.Timestamp.After(prev.Timestamp) {
			latest[m.AgentID] = m
		}
	}
	for _, m := range latest {
		r.Monitor.Heartbeat(m.AgentID, m.SwarmID, m.Timestamp)
	}
	return len(latest), nil
}

// Report renders the health report of swarmID.
func (r *Runtime) Report(ctx context.Context, swarmID string, format health.Format) ([]byte, error) {
	return r.Reporter.GenerateReport(ctx, swarmID, format)
}

// Analytics analyzes healing events recorded since the given time.
func (r *Runtime) Analytics(ctx context.Context, since time.Time) (*healing.Report, error) {
	if !r.Degrader.FeatureEnabled(resilience.FeatureHealingAnalytics) {
		return nil, fmt.Errorf("%w: %s", ErrFeatureDisabled, resilience.FeatureHealingAnalytics)
	}
	return r.Analyzer.Load(ctx, r.Store, since)
}

// NewMesh builds a mesh reporting to telemetry and gated by degradation.
func (r *Runtime) NewMesh() *topology.Mesh {
	return topology.NewMesh(r.topologyOptions()...)
}

// NewStar builds a star reporting to telemetry and gated by degradation.
func (r *Runtime) NewStar(hubID, hubType string) *topology.Star {
	return topology.NewStar(hubID, hubType, r.topologyOptions()...)
}

func (r *Runtime) topologyOptions() []topology.Option {
	return []topology.Option{
		topology.WithRecorder(r.Telemetry),
		topology.WithClock(r.now),
		topology.WithFeatureGate(r.Degrader.FeatureEnabled),
	}
}

// Cleanup applies the configured retention.
func (r *Runtime) Cleanup(ctx context.Context) (map[metrics.Table]int64, error) {
	return r.Store.CleanupOldMetrics(ctx, r.cfg.Metrics.RetentionDays)
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/sipeed/picoswarm/pkg/logger"
	"github.com/sipeed/picoswarm/pkg/metrics"
)

// Format selects the report rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts markdown/md and json/structured.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json", "structured":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown report format %q", name)
}

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is raised for agents that are not healthy.
type Alert struct {
	Severity Severity  `json:"severity"`
	AgentID  string    `json:"agent_id"`
	State    State     `json:"state"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// AgentReport extends AgentHealth with stored statistics.
type AgentReport struct {
	AgentHealth
	Uptime time.Duration `json:"uptime_ns"`
}

// Report is the structured health report of one swarm.
type Report struct {
	SwarmID               string         `json:"swarm_id"`
	GeneratedAt           time.Time      `json:"generated_at"`
	State                 State          `json:"state"`
	Agents                []AgentReport  `json:"agents"`
	StatusCounts          map[string]int `json:"status_counts"`
	Window                time.Duration  `json:"window_ns"`
	Throughput            float64        `json:"throughput_per_hour"`
	TasksTotal            int64          `json:"tasks_total"`
	TaskSuccessRate       float64        `json:"task_success_rate"`
	ObservabilityDegraded bool           `json:"observability_degraded"`
	StorageError          string         `json:"storage_error,omitempty"`
	Alerts                []Alert        `json:"alerts"`
}

// StatsSource supplies stored statistics. *metrics.Store implements it.
type StatsSource interface {
	AgentUptime(ctx context.Context, agentID string, tr metrics.TimeRange) (time.Duration, error)
	Throughput(ctx context.Context, swarmID string, tr metrics.TimeRange) (float64, error)
	Aggregate(ctx context.Context, table metrics.Table, fn metrics.AggFunc, column string, tr metrics.TimeRange, equals map[string]any) (float64, error)
}

// ReporterConfig controls report generation.
type ReporterConfig struct {
	// AlertCooldown suppresses repeats of the same agent+severity alert.
	AlertCooldown time.Duration
	// StatsWindow is how far back stored statistics are read.
	StatsWindow time.Duration
	// DegradedHold keeps the observability-degraded flag raised for this
	// long after the last storage failure.
	DegradedHold time.Duration
}

// DefaultReporterConfig returns the default reporter settings.
func DefaultReporterConfig() ReporterConfig {
	return ReporterConfig{
		AlertCooldown: 5 * time.Minute,
		StatsWindow:   24 * time.Hour,
		DegradedHold:  5 * time.Minute,
	}
}

// Reporter builds health reports from a Monitor and optional stored
// statistics, and raises alerts.
type Reporter struct {
	monitor *Monitor
	stats   StatsSource
	cfg     ReporterConfig
	now     func() time.Time

	// alerts maps agent|severity to the report time of the last alert.
	// Suppression is decided against now; the cache TTL only evicts.
	alertMu sync.Mutex
	alerts  *cache.Cache

	mu            sync.Mutex
	lastFailure   time.Time
	lastFailErr   string
	storageErrors int64
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithReporterClock overrides the time source.
func WithReporterClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter. stats may be nil.
func NewReporter(monitor *Monitor, stats StatsSource, cfg ReporterConfig, opts ...ReporterOption) *Reporter {
	def := DefaultReporterConfig()
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = def.AlertCooldown
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}
	if cfg.DegradedHold <= 0 {
		cfg.DegradedHold = def.DegradedHold
	}
	r := &Reporter{
		monitor: monitor,
		stats:   stats,
		cfg:     cfg,
		alerts:  cache.New(2*cfg.AlertCooldown, cfg.AlertCooldown),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReportStorageFailure marks observability as degraded. It satisfies
// metrics.ObservabilitySink.
func (r *Reporter) ReportStorageFailure(err error) {
	r.mu.Lock()
	r.lastFailure = r.now()
	r.lastFailErr = err.Error()
	r.storageErrors++
	n := r.storageErrors
	r.mu.Unlock()

	logger.WarnCF("health", "Metrics storage failure", map[string]any{
		"error": err.Error(),
		"total": n,
	})
}

func (r *Reporter) observability(now time.Time) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastFailure.IsZero() || now.Sub(r.lastFailure) >= r.cfg.DegradedHold {
		return false, ""
	}
	return true, r.lastFailErr
}

// BuildReport assembles the structured report for swarmID. Storage errors
// while reading statistics do not fail the report; they mark it degraded.
func (r *Reporter) BuildReport(ctx context.Context, swarmID string) (*Report, error) {
	now := r.now()
	agents := r.monitor.Agents(swarmID, now)
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSwarm, swarmID)
	}

	rep := &Report{
		SwarmID:      swarmID,
		GeneratedAt:  now,
		Window:       r.cfg.StatsWindow,
		StatusCounts: make(map[string]int),
		Alerts:       []Alert{},
	}
	for _, a := range agents {
		rep.State = max(rep.State, a.State)
		rep.StatusCounts[a.State.String()]++
		rep.Agents = append(rep.Agents, AgentReport{AgentHealth: a})
	}

	if r.stats != nil {
		if err := r.fillStats(ctx, rep, now); err != nil {
			if !errors.Is(err, metrics.ErrStorageUnavailable) {
				return nil, err
			}
			r.ReportStorageFailure(err)
		}
	}
	rep.ObservabilityDegraded, rep.StorageError = r.observability(now)
	rep.Alerts = append(rep.Alerts, r.raiseAlerts(agents, now)...)
	return rep, nil
}

func (r *Reporter) fillStats(ctx context.Context, rep *Report, now time.Time) error {
	tr := metrics.TimeRange{Start: now.Add(-r.cfg.StatsWindow), End: now}

	for i := range rep.Agents {
		up, err := r.stats.AgentUptime(ctx, rep.Agents[i].AgentID, tr)
		if err != nil {
			return err
		}
		rep.Agents[i].Uptime = up
	}

	tp, err := r.stats.Throughput(ctx, rep.SwarmID, tr)
	if err != nil {
		return err
	}
	rep.Throughput = tp

	swarm := map[string]any{"swarm_id": rep.SwarmID}
	total, err := r.stats.Aggregate(ctx, metrics.TableTask, metrics.AggCount, "", tr, swarm)
	if err != nil {
		return err
	}
	rep.TasksTotal = int64(total)
	if total > 0 {
		ok, err := r.stats.Aggregate(ctx, metrics.TableTask, metrics.AggCount, "", tr,
			map[string]any{"swarm_id": rep.SwarmID, "result": metrics.ResultSuccess})
		if err != nil {
			return err
		}
		rep.TaskSuccessRate = ok / total
	}
	return nil
}

// raiseAlerts returns alerts for unhealthy agents not already alerted
// within the cooldown.
func (r *Reporter) raiseAlerts(agents []AgentHealth, now time.Time) []Alert {
	var out []Alert
	for _, a := range agents {
		sev, ok := severityFor(a.State)
		if !ok {
			continue
		}
		if !r.claimAlert(a.AgentID+"|"+string(sev), now) {
			continue
		}
		alert := Alert{
			Severity: sev,
			AgentID:  a.AgentID,
			State:    a.State,
			Message:  fmt.Sprintf("agent %s is %s, no heartbeat for %s", a.AgentID, a.State, a.SinceLast.Round(time.Second)),
			At:       now,
		}
		out = append(out, alert)

		fields := map[string]any{"agent_id": a.AgentID, "state": a.State.String()}
		if sev == SeverityCritical {
			logger.ErrorCF("health", "Health alert", fields)
		} else {
			logger.WarnCF("health", "Health alert", fields)
		}
	}
	return out
}

// claimAlert records an alert for key unless one was raised less than the
// cooldown before now.
func (r *Reporter) claimAlert(key string, now time.Time) bool {
	r.alertMu.Lock()
	defer r.alertMu.Unlock()
	if v, ok := r.alerts.Get(key); ok {
		if last, ok := v.(time.Time); ok && now.Sub(last) < r.cfg.AlertCooldown {
			return false
		}
	}
	r.alerts.Set(key, now, cache.DefaultExpiration)
	return true
}

func severityFor(s State) (Severity, bool) {
	switch s {
	case Degraded:
		return SeverityWarning, true
	case Critical, Failed:
		return SeverityCritical, true
	}
	return "", false
}

// GenerateReport builds and renders the report for swarmID.
func (r *Reporter) GenerateReport(ctx context.Context, swarmID string, format Format) ([]byte, error) {
	rep, err := r.BuildReport(ctx, swarmID)
	if err != nil {
		return nil, err
	}
	return rep.Render(format)
}

// Render encodes the report in format.
func (rep *Report) Render(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(rep, "", "  ")
	case FormatMarkdown:
		return []byte(rep.markdown()), nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

func (rep *Report) markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Swarm Health Report: %s\n\n", rep.SwarmID)
	fmt.Fprintf(&b, "Generated: %s\n\n", rep.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Overall state:** %s\n\n", rep.State)
	if rep.ObservabilityDegraded {
		fmt.Fprintf(&b, "> Observability degraded: %s\n\n", rep.StorageError)
	}

	b.WriteString("## Agents\n\n")
	b.WriteString("| Agent | State | Last heartbeat | Silent for | Uptime |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, a := range rep.Agents {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			a.AgentID, a.State, a.LastHeartbeat.Format(time.RFC3339),
			a.SinceLast.Round(time.Second), a.Uptime.Round(time.Second))
	}

	fmt.Fprintf(&b, "\n## Statistics (last %s)\n\n", rep.Window)
	fmt.Fprintf(&b, "- Tasks: %d\n", rep.TasksTotal)
	fmt.Fprintf(&b, "- Task success rate: %.1f%%\n", rep.TaskSuccessRate*100)
	fmt.Fprintf(&b, "- Throughput: %.2f tasks/hour\n", rep.Throughput)

	b.WriteString("\n## Alerts\n\n")
	if len(rep.Alerts) == 0 {
		b.WriteString("None\n")
	}
	for _, a := range rep.Alerts {
		fmt.Fprintf(&b, "- **%s** %s\n", a.Severity, a.Message)
	}
	return b.String()
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sipeed/picoswarm/pkg/health"
	"github.com/sipeed/picoswarm/pkg/resilience"
)

// ErrRegistrationFailed is returned when a collector cannot be registered.
var ErrRegistrationFailed = errors.New("metric registration failed")

// Recorder exports swarm signals as Prometheus metrics. A nil *Recorder
// accepts every call and records nothing.
type Recorder struct {
	circuitState       *prometheus.GaugeVec
	circuitTransitions *prometheus.CounterVec
	degradationLevel   prometheus.Gauge
	agentHealth        *prometheus.GaugeVec
	messages           *prometheus.CounterVec
	healing            *prometheus.CounterVec
	healingDuration    *prometheus.HistogramVec
}

// New creates a recorder and registers its collectors on reg.
func New(reg prometheus.Registerer, namespace string) (*Recorder, error) {
	if namespace == "" {
		namespace = "picoswarm"
	}
	r := &Recorder{
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per key (0 closed, 1 open, 2 half-open).",
		}, []string{"key"}),
		circuitTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state changes by target state.",
		}, []string{"key", "to"}),
		degradationLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "degradation_level",
			Help:      "Current service level (0 full to 4 minimal).",
		}),
		agentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "agent_state",
			Help:      "Agent health (0 healthy, 1 degraded, 2 critical, 3 failed).",
		}, []string{"swarm", "agent"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "topology",
			Name:      "messages_delivered_total",
			Help:      "Messages delivered into agent inboxes.",
		}, []string{"topology"}),
		healing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "healing_attempts_total",
			Help:      "Healing attempts by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		healingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "healing_duration_seconds",
			Help:      "Time spent in a healing attempt.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"strategy"}),
	}

	for _, c := range []prometheus.Collector{
		r.circuitState, r.circuitTransitions, r.degradationLevel,
		r.agentHealth, r.messages, r.healing, r.healingDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
		}
	}
	return r, nil
}

// MessagesDelivered counts topology deliveries.
func (r *Recorder) MessagesDelivered(topology string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.messages.WithLabelValues(topology).Add(float64(n))
}

// CircuitTransition tracks breaker state changes.
func (r *Recorder) CircuitTransition(key string, _, to resilience.CircuitState) {
	if r == nil {
		return
	}
	r.circuitState.WithLabelValues(key).Set(float64(to))
	r.circuitTransitions.WithLabelValues(key, to.String()).Inc()
}

// LevelChanged tracks the degradation level.
func (r *Recorder) LevelChanged(_, to resilience.Level, _ string) {
	if r == nil {
		return
	}
	r.degradationLevel.Set(float64(to))
}

// HealthTransition tracks agent health.
func (r *Recorder) HealthTransition(tr health.Transition) {
	if r == nil {
		return
	}
	r.agentHealth.WithLabelValues(tr.SwarmID, tr.AgentID).Set(float64(tr.To))
}

// HealingOutcome counts healing attempts.
func (r *Recorder) HealingOutcome(_ resilience.FailureEvent, res resilience.HealingResult) {
	if r == nil {
		return
	}
	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	r.healing.WithLabelValues(string(res.StrategyUsed), outcome).Inc()
	r.healingDuration.WithLabelValues(string(res.StrategyUsed)).Observe(float64(res.DurationMS) / 1000)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefaultConfig_HeartbeatOrdering(t *testing.T) {
	hb := DefaultConfig().Heartbeat
	if !(hb.DegradedAfter.Duration < hb.CriticalAfter.Duration && hb.CriticalAfter.Duration < hb.FailedAfter.Duration) {
		t.Errorf("thresholds out of order: %v %v %v", hb.DegradedAfter, hb.CriticalAfter, hb.FailedAfter)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CircuitBreaker.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.Metrics.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.Metrics.RetentionDays)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "circuit_breaker": {"failure_threshold": 3, "timeout": "15s"},
  "heartbeat": {"degraded_after": 10000000000},
  "log": {"level": "debug"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.Timeout.Duration != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", cfg.CircuitBreaker.Timeout)
	}
	if cfg.Heartbeat.DegradedAfter.Duration != 10*time.Second {
		t.Errorf("DegradedAfter = %v, want 10s", cfg.Heartbeat.DegradedAfter)
	}
	// untouched sections keep their defaults
	if cfg.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("SuccessThreshold = %d, want 2", cfg.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
degradation:
  thresholds: [50, 70, 80, 90]
  hysteresis: 2.5
metrics:
  db_path: /tmp/swarm.db
  flush_interval: 2s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Degradation.Thresholds; len(got) != 4 || got[0] != 50 || got[3] != 90 {
		t.Errorf("Thresholds = %v", got)
	}
	if cfg.Degradation.Hysteresis != 2.5 {
		t.Errorf("Hysteresis = %v, want 2.5", cfg.Degradation.Hysteresis)
	}
	if cfg.MetricsDBPath() != "/tmp/swarm.db" {
		t.Errorf("MetricsDBPath = %q", cfg.MetricsDBPath())
	}
	if cfg.Metrics.FlushInterval.Duration != 2*time.Second {
		t.Errorf("FlushInterval = %v, want 2s", cfg.Metrics.FlushInterval)
	}
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"circuit_breaker": {"failure_threshold": 3}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PICOSWARM_CIRCUIT_FAILURE_THRESHOLD", "8")
	t.Setenv("PICOSWARM_HEARTBEAT_FAILED_AFTER", "5m")
	t.Setenv("PICOSWARM_DEGRADATION_THRESHOLDS", "40,60,80,90")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.CircuitBreaker.FailureThreshold != 8 {
		t.Errorf("env should win over file: got %d", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.Heartbeat.FailedAfter.Duration != 5*time.Minute {
		t.Errorf("FailedAfter = %v, want 5m", cfg.Heartbeat.FailedAfter)
	}
	if cfg.Degradation.Thresholds[0] != 40 {
		t.Errorf("Thresholds = %v", cfg.Degradation.Thresholds)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"log level", `{"log": {"level": "verbose"}}`, "level"},
		{"threshold count", `{"degradation": {"thresholds": [60, 75, 85]}}`, "thresholds"},
		{"heartbeat order", `{"heartbeat": {"critical_after": "10s"}}`, "critical_after"},
		{"zero failures", `{"circuit_breaker": {"failure_threshold": 0}}`, "failure_threshold"},
		{"success rate", `{"healing": {"low_success_rate": 1.5}}`, "low_success_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should name %q", err, tt.field)
			}
		})
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"circuit_breaker": {"timeout": "soon"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveConfig_RoundTripYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	cfg := DefaultConfig()
	cfg.Healing.Burst = 7

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "timeout: 1m0s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Healing.Burst != 7 {
		t.Errorf("Burst = %d, want 7", loaded.Healing.Burst)
	}
}

func TestResolveRuntimePaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvPicoSwarmConfig, "")
	t.Setenv(EnvPicoSwarmHome, home)

	p := ResolveRuntimePaths()
	if p.ConfigPath != filepath.Join(home, "config.json") {
		t.Errorf("ConfigPath = %q", p.ConfigPath)
	}
	if p.MetricsDB != filepath.Join(home, "metrics.db") {
		t.Errorf("MetricsDB = %q", p.MetricsDB)
	}

	custom := filepath.Join(t.TempDir(), "swarm.yaml")
	t.Setenv(EnvPicoSwarmConfig, custom)
	p = ResolveRuntimePaths()
	if p.ConfigPath != custom || p.HomeDir != filepath.Dir(custom) {
		t.Errorf("PICOSWARM_CONFIG should win: %+v", p)
	}
}

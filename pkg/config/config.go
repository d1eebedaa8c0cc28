package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Heartbeat      HeartbeatConfig      `json:"heartbeat" yaml:"heartbeat"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	Degradation    DegradationConfig    `json:"degradation" yaml:"degradation"`
	Metrics        MetricsConfig        `json:"metrics" yaml:"metrics"`
	Healing        HealingConfig        `json:"healing" yaml:"healing"`
	Log            LogConfig            `json:"log" yaml:"log"`
}

// HeartbeatConfig controls health classification and reporting.
type HeartbeatConfig struct {
	CheckInterval Duration `json:"check_interval" yaml:"check_interval" env:"PICOSWARM_HEARTBEAT_CHECK_INTERVAL" validate:"gt=0"`
	DegradedAfter Duration `json:"degraded_after" yaml:"degraded_after" env:"PICOSWARM_HEARTBEAT_DEGRADED_AFTER" validate:"gt=0"`
	CriticalAfter Duration `json:"critical_after" yaml:"critical_after" env:"PICOSWARM_HEARTBEAT_CRITICAL_AFTER" validate:"gtfield=DegradedAfter"`
	FailedAfter   Duration `json:"failed_after" yaml:"failed_after" env:"PICOSWARM_HEARTBEAT_FAILED_AFTER" validate:"gtfield=CriticalAfter"`
	AlertCooldown Duration `json:"alert_cooldown" yaml:"alert_cooldown" env:"PICOSWARM_HEARTBEAT_ALERT_COOLDOWN" validate:"gte=0"`
	StatsWindow   Duration `json:"stats_window" yaml:"stats_window" env:"PICOSWARM_HEARTBEAT_STATS_WINDOW" validate:"gt=0"`
}

type CircuitBreakerConfig struct {
	FailureThreshold  int      `json:"failure_threshold" yaml:"failure_threshold" env:"PICOSWARM_CIRCUIT_FAILURE_THRESHOLD" validate:"gte=1"`
	SuccessThreshold  int      `json:"success_threshold" yaml:"success_threshold" env:"PICOSWARM_CIRCUIT_SUCCESS_THRESHOLD" validate:"gte=1"`
	Timeout           Duration `json:"timeout" yaml:"timeout" env:"PICOSWARM_CIRCUIT_TIMEOUT" validate:"gt=0"`
	HalfOpenMaxProbes int      `json:"half_open_max_probes" yaml:"half_open_max_probes" env:"PICOSWARM_CIRCUIT_HALF_OPEN_MAX_PROBES" validate:"gte=1"`
}

// DegradationConfig holds the usage percentages that step service down
// from FULL through MINIMAL.
type DegradationConfig struct {
	Thresholds []float64 `json:"thresholds" yaml:"thresholds" env:"PICOSWARM_DEGRADATION_THRESHOLDS" validate:"len=4,dive,gt=0,lte=100"`
	Hysteresis float64   `json:"hysteresis" yaml:"hysteresis" env:"PICOSWARM_DEGRADATION_HYSTERESIS" validate:"gte=0,lt=50"`
}

type MetricsConfig struct {
	DBPath        string   `json:"db_path" yaml:"db_path" env:"PICOSWARM_METRICS_DB_PATH" validate:"required"`
	RetentionDays int      `json:"retention_days" yaml:"retention_days" env:"PICOSWARM_METRICS_RETENTION_DAYS" validate:"gte=1"`
	BatchSize     int      `json:"batch_size" yaml:"batch_size" env:"PICOSWARM_METRICS_BATCH_SIZE" validate:"gte=1"`
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval" env:"PICOSWARM_METRICS_FLUSH_INTERVAL" validate:"gt=0"`
	MaxPending    int      `json:"max_pending" yaml:"max_pending" env:"PICOSWARM_METRICS_MAX_PENDING" validate:"gtefield=BatchSize"`
	Namespace     string   `json:"namespace" yaml:"namespace" env:"PICOSWARM_METRICS_NAMESPACE"`
}

type HealingConfig struct {
	AttemptsPerMinute  float64 `json:"attempts_per_minute" yaml:"attempts_per_minute" env:"PICOSWARM_HEALING_ATTEMPTS_PER_MINUTE" validate:"gt=0"`
	Burst              int     `json:"burst" yaml:"burst" env:"PICOSWARM_HEALING_BURST" validate:"gte=1"`
	TrendWindow        int     `json:"trend_window" yaml:"trend_window" env:"PICOSWARM_HEALING_TREND_WINDOW" validate:"gte=2"`
	MinAttempts        int     `json:"min_attempts" yaml:"min_attempts" env:"PICOSWARM_HEALING_MIN_ATTEMPTS" validate:"gte=1"`
	LowSuccessRate     float64 `json:"low_success_rate" yaml:"low_success_rate" env:"PICOSWARM_HEALING_LOW_SUCCESS_RATE" validate:"gte=0,lte=1"`
	RecurringThreshold int     `json:"recurring_threshold" yaml:"recurring_threshold" env:"PICOSWARM_HEALING_RECURRING_THRESHOLD" validate:"gte=1"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level" env:"PICOSWARM_LOG_LEVEL" validate:"oneof=debug info warn error fatal"`
	File  string `json:"file" yaml:"file" env:"PICOSWARM_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Heartbeat: HeartbeatConfig{
			CheckInterval: D(5 * time.Second),
			DegradedAfter: D(30 * time.Second),
			CriticalAfter: D(60 * time.Second),
			FailedAfter:   D(120 * time.Second),
			AlertCooldown: D(5 * time.Minute),
			StatsWindow:   D(24 * time.Hour),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			Timeout:           D(60 * time.Second),
			HalfOpenMaxProbes: 1,
		},
		Degradation: DegradationConfig{
			Thresholds: []float64{60, 75, 85, 95},
			Hysteresis: 5,
		},
		Metrics: MetricsConfig{
			DBPath:        "~/.picoswarm/metrics.db",
			RetentionDays: 30,
			BatchSize:     100,
			FlushInterval: D(10 * time.Second),
			MaxPending:    10000,
			Namespace:     "picoswarm",
		},
		Healing: HealingConfig{
			AttemptsPerMinute:  6,
			Burst:              3,
			TrendWindow:        10,
			MinAttempts:        5,
			LowSuccessRate:     0.5,
			RecurringThreshold: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Duration fields validate as their nanosecond count.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(Duration); ok {
			return int64(d.Duration)
		}
		return nil
	}, Duration{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads path (JSON, or YAML for .yaml/.yml), overlays
// PICOSWARM_* environment variables and validates the result. A missing
// file yields the defaults plus the environment.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// Marshal encodes cfg as YAML when yamlOut is set, JSON otherwise.
func Marshal(cfg *Config, yamlOut bool) ([]byte, error) {
	if yamlOut {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "  ")
}

func SaveConfig(path string, cfg *Config) error {
	data, err := Marshal(cfg, isYAML(path))
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// MetricsDBPath returns the database path with ~ expanded.
func (c *Config) MetricsDBPath() string {
	return expandHome(c.Metrics.DBPath)
}

// LogFilePath returns the log file path with ~ expanded, or "".
func (c *Config) LogFilePath() string {
	return expandHome(c.Log.File)
}

// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/sipeed/picoswarm/pkg/logger"
)

// ObservabilitySink is told when metrics could not be persisted.
type ObservabilitySink interface {
	ReportStorageFailure(err error)
}

// CollectorConfig controls buffering.
type CollectorConfig struct {
	// BatchSize triggers a flush when this many records are buffered.
	BatchSize int
	// FlushInterval triggers a periodic flush while the collector runs.
	FlushInterval time.Duration
	// MaxPending caps records kept for retry after failed flushes. Older
	// records beyond the cap are dropped.
	MaxPending int
}

// DefaultCollectorConfig returns the default buffering settings.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		BatchSize:     100,
		FlushInterval: 10 * time.Second,
		MaxPending:    10000,
	}
}

// CollectorStats counts collector activity.
type CollectorStats struct {
	Pending  int   `json:"pending"`
	Flushed  int64 `json:"flushed"`
	Failures int64 `json:"failures"`
	Dropped  int64 `json:"dropped"`
	Rejected int64 `json:"rejected"`
}

// Collector buffers metric writes and flushes them to a Store in batches.
// Each flush is a single transaction, so readers never see half a batch.
type Collector struct {
	store *Store
	cfg   CollectorConfig
	sink  ObservabilitySink

	mu     sync.Mutex
	buf    []record
	stats  CollectorStats
	flushM sync.Mutex

	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewCollector creates a collector writing to store. sink may be nil.
func NewCollector(store *Store, cfg CollectorConfig, sink ObservabilitySink) *Collector {
	def := DefaultCollectorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxPending < cfg.BatchSize {
		cfg.MaxPending = max(def.MaxPending, cfg.BatchSize)
	}
	return &Collector{store: store, cfg: cfg, sink: sink}
}

// Start begins periodic flushing. It is a no-op if already running.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})

	go c.run(ctx, c.stopChan, c.done)

	logger.InfoCF("metrics", "Metrics collector started", map[string]any{
		"batch_size": c.cfg.BatchSize,
		"interval":   c.cfg.FlushInterval.String(),
	})
}

func (c *Collector) run(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.Flush(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RecordTask buffers a task metric.
func (c *Collector) RecordTask(m TaskMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.store.now()
	}
	c.add(m)
}

// RecordAgent buffers an agent metric.
func (c *Collector) RecordAgent(m AgentMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.store.now()
	}
	c.add(m)
}

// RecordSwarm buffers a swarm metric.
func (c *Collector) RecordSwarm(m SwarmMetric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = c.store.now()
	}
	c.add(m)
}

func (c *Collector) add(r record) {
	c.mu.Lock()
	c.buf = append(c.buf, r)
	full := len(c.buf) >= c.cfg.BatchSize
	c.mu.Unlock()

	if full {
		_ = c.Flush(context.Background())
	}
}

// Flush writes every buffered record in one transaction. Records that
// cannot be encoded are dropped and counted as rejected. On a database
// failure the records are kept for the next flush and the sink is notified.
func (c *Collector) Flush(ctx context.Context) error {
	c.flushM.Lock()
	defer c.flushM.Unlock()

	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	rejected, err := c.store.storeBatch(ctx, batch)

	c.mu.Lock()
	if err == nil {
		c.stats.Flushed += int64(len(batch) - rejected)
		c.stats.Rejected += int64(rejected)
		c.mu.Unlock()
		logger.DebugCF("metrics", "Flushed metrics batch", map[string]any{
			"records":  len(batch) - rejected,
			"rejected": rejected,
		})
		return nil
	}

	c.stats.Failures++
	c.buf = append(batch, c.buf...)
	var dropped int
	if over := len(c.buf) - c.cfg.MaxPending; over > 0 {
		dropped = over
		c.buf = c.buf[over:]
		c.stats.Dropped += int64(over)
	}
	c.mu.Unlock()

	logger.ErrorCF("metrics", "Metrics flush failed", map[string]any{
		"records": len(batch),
		"dropped": dropped,
		"error":   err.Error(),
	})
	if c.sink != nil {
		c.sink.ReportStorageFailure(err)
	}
	return err
}

// Stats returns a snapshot of collector counters.
func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Pending = len(c.buf)
	return st
}

// Close stops periodic flushing and flushes what is left.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	var done chan struct{}
	if c.running {
		close(c.stopChan)
		done = c.done
		c.running = false
	}
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	return c.Flush(ctx)
}

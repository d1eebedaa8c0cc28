// PicoClaw - Ultra-lightweight personal AI agent
// Swarm mode support for multi-agent coordination
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sipeed/picoswarm/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store persists metrics in a local sqlite database.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for retention cutoffs.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, opts ...StoreOption) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, unavailable("create db dir", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open db", err)
	}
	// sqlite has a single writer; serializing connections avoids SQLITE_BUSY
	// between the collector and direct writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("ping db", err)
	}

	s := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	logger.DebugCF("metrics", "Metrics store opened", map[string]any{"path": path})
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS task_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    swarm_id TEXT NOT NULL DEFAULT '',
    metric_type TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    result TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    files_changed INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_metrics_timestamp ON task_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_task_metrics_task ON task_metrics(task_id);
CREATE INDEX IF NOT EXISTS idx_task_metrics_agent ON task_metrics(agent_id);

CREATE TABLE IF NOT EXISTS agent_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL,
    swarm_id TEXT NOT NULL DEFAULT '',
    metric_type TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    metadata TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_metrics_timestamp ON agent_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_agent_metrics_agent ON agent_metrics(agent_id);

CREATE TABLE IF NOT EXISTS swarm_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    swarm_id TEXT NOT NULL,
    metric_type TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 0,
    metadata TEXT,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_swarm_metrics_timestamp ON swarm_metrics(timestamp);
CREATE INDEX IF NOT EXISTS idx_swarm_metrics_swarm ON swarm_metrics(swarm_id);

CREATE TABLE IF NOT EXISTS healing_events (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    swarm_id TEXT NOT NULL DEFAULT '',
    failure_type TEXT NOT NULL,
    strategy TEXT NOT NULL,
    success INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    actions TEXT,
    error TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_healing_events_timestamp ON healing_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_healing_events_agent ON healing_events(agent_id);
`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// record is a row that knows how to insert itself.
type record interface {
	insert(ctx context.Context, ex execer) error
}

func (m TaskMetric) insert(ctx context.Context, ex execer) error {
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO task_metrics
		(task_id, agent_id, swarm_id, metric_type, value, duration_ms, result, token_count, files_changed, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.TaskID, m.AgentID, m.SwarmID, m.MetricType, m.Value, m.DurationMS, m.Result,
		m.TokenCount, m.FilesChanged, meta, m.Timestamp.UnixNano())
	return err
}

func (m AgentMetric) insert(ctx context.Context, ex execer) error {
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO agent_metrics
		(agent_id, swarm_id, metric_type, value, metadata, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		m.AgentID, m.SwarmID, m.MetricType, m.Value, meta, m.Timestamp.UnixNano())
	return err
}

func (m SwarmMetric) insert(ctx context.Context, ex execer) error {
	meta, err := encodeJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO swarm_metrics
		(swarm_id, metric_type, value, metadata, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.SwarmID, m.MetricType, m.Value, meta, m.Timestamp.UnixNano())
	return err
}

func (e HealingEvent) insert(ctx context.Context, ex execer) error {
	actions, err := encodeJSON(e.Actions)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO healing_events
		(id, agent_id, swarm_id, failure_type, strategy, success, duration_ms, actions, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AgentID, e.SwarmID, e.FailureType, e.Strategy, boolInt(e.Success),
		e.DurationMS, actions, e.Error, e.Timestamp.UnixNano())
	return err
}

// StoreTaskMetric inserts one task metric. A zero timestamp is set to now.
func (s *Store) StoreTaskMetric(ctx context.Context, m TaskMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if err := m.insert(ctx, s.db); err != nil {
		return writeErr("store task metric", err)
	}
	return nil
}

// StoreAgentMetric inserts one agent metric. A zero timestamp is set to now.
func (s *Store) StoreAgentMetric(ctx context.Context, m AgentMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if err := m.insert(ctx, s.db); err != nil {
		return writeErr("store agent metric", err)
	}
	return nil
}

// StoreSwarmMetric inserts one swarm metric. A zero timestamp is set to now.
func (s *Store) StoreSwarmMetric(ctx context.Context, m SwarmMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	if err := m.insert(ctx, s.db); err != nil {
		return writeErr("store swarm metric", err)
	}
	return nil
}

// StoreHealingEvent inserts one healing event. The caller assigns the id.
func (s *Store) StoreHealingEvent(ctx context.Context, e HealingEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	if err := e.insert(ctx, s.db); err != nil {
		return writeErr("store healing event", err)
	}
	return nil
}

// storeBatch writes records in a single transaction. Rows that cannot be
// encoded are skipped and counted in rejected; any database error rolls
// back the whole batch.
func (s *Store) storeBatch(ctx context.Context, records []record) (rejected int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin batch", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if err := r.insert(ctx, tx); err != nil {
			if errors.Is(err, ErrInvalidRecord) {
				rejected++
				logger.WarnCF("metrics", "Dropping unencodable metric", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			return 0, unavailable("insert batch row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit batch", err)
	}
	return rejected, nil
}

// GetTaskMetrics returns task metrics matching f, oldest first.
func (s *Store) GetTaskMetrics(ctx context.Context, f Filter) ([]TaskMetric, error) {
	rows, err := s.query(ctx, TableTask,
		"id, task_id, agent_id, swarm_id, metric_type, value, duration_ms, result, token_count, files_changed, metadata, timestamp", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskMetric
	for rows.Next() {
		var (
			m    TaskMetric
			meta sql.NullString
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.TaskID, &m.AgentID, &m.SwarmID, &m.MetricType, &m.Value,
			&m.DurationMS, &m.Result, &m.TokenCount, &m.FilesChanged, &meta, &ts); err != nil {
			return nil, unavailable("scan task metric", err)
		}
		m.Timestamp = fromNanos(ts)
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate task metrics", err)
	}
	return out, nil
}

// GetAgentMetrics returns agent metrics matching f, oldest first.
func (s *Store) GetAgentMetrics(ctx context.Context, f Filter) ([]AgentMetric, error) {
	rows, err := s.query(ctx, TableAgent, "id, agent_id, swarm_id, metric_type, value, metadata, timestamp", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentMetric
	for rows.Next() {
		var (
			m    AgentMetric
			meta sql.NullString
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.AgentID, &m.SwarmID, &m.MetricType, &m.Value, &meta, &ts); err != nil {
			return nil, unavailable("scan agent metric", err)
		}
		m.Timestamp = fromNanos(ts)
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate agent metrics", err)
	}
	return out, nil
}

// GetSwarmMetrics returns swarm metrics matching f, oldest first.
func (s *Store) GetSwarmMetrics(ctx context.Context, f Filter) ([]SwarmMetric, error) {
	rows, err := s.query(ctx, TableSwarm, "id, swarm_id, metric_type, value, metadata, timestamp", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SwarmMetric
	for rows.Next() {
		var (
			m    SwarmMetric
			meta sql.NullString
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.SwarmID, &m.MetricType, &m.Value, &meta, &ts); err != nil {
			return nil, unavailable("scan swarm metric", err)
		}
		m.Timestamp = fromNanos(ts)
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate swarm metrics", err)
	}
	return out, nil
}

// GetHealingEvents returns healing events matching f, oldest first.
func (s *Store) GetHealingEvents(ctx context.Context, f Filter) ([]HealingEvent, error) {
	rows, err := s.query(ctx, TableHealing,
		"id, agent_id, swarm_id, failure_type, strategy, success, duration_ms, actions, error, timestamp", f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HealingEvent
	for rows.Next() {
		var (
			e       HealingEvent
			success int64
			actions sql.NullString
			ts      int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.SwarmID, &e.FailureType, &e.Strategy, &success,
			&e.DurationMS, &actions, &e.Error, &ts); err != nil {
			return nil, unavailable("scan healing event", err)
		}
		e.Success = success != 0
		e.Timestamp = fromNanos(ts)
		if err := decodeJSON(actions, &e.Actions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate healing events", err)
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, table Table, columns string, f Filter) (*sql.Rows, error) {
	where, args, err := buildWhere(table, f.Equals, TimeRange{Start: f.Since, End: f.Until})
	if err != nil {
		return nil, err
	}
	q := "SELECT " + columns + " FROM " + string(table) + where + " ORDER BY timestamp ASC, rowid ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable("query "+string(table), err)
	}
	return rows, nil
}

// buildWhere renders equality and time-range predicates. Column names are
// checked against the table's allow-list before being interpolated.
func buildWhere(table Table, equals map[string]any, tr TimeRange) (string, []any, error) {
	spec, ok := schemaSpecs[table]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var (
		clauses []string
		args    []any
	)
	keys := make([]string, 0, len(equals))
	for k := range equals {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !spec.filterable[k] {
			return "", nil, fmt.Errorf("%w: column %q on %s", ErrInvalidFilter, k, table)
		}
		v := equals[k]
		if b, isBool := v.(bool); isBool {
			v = boolInt(b)
		}
		clauses = append(clauses, k+" = ?")
		args = append(args, v)
	}
	if !tr.Start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, tr.Start.UnixNano())
	}
	if !tr.End.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, tr.End.UnixNano())
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// Aggregate applies fn to column over rows of table inside tr that match
// equals. Count ignores column and returns 0 for an empty set; every other
// function returns ErrAggregation when no rows match. Standard deviation is
// the population deviation.
func (s *Store) Aggregate(ctx context.Context, table Table, fn AggFunc, column string, tr TimeRange, equals map[string]any) (float64, error) {
	spec, ok := schemaSpecs[table]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if !fn.Valid() {
		return 0, fmt.Errorf("%w: unknown function %q", ErrAggregation, fn)
	}
	if fn != AggCount && !spec.numeric[column] {
		return 0, fmt.Errorf("%w: column %q on %s is not numeric", ErrAggregation, column, table)
	}

	where, args, err := buildWhere(table, equals, tr)
	if err != nil {
		return 0, err
	}

	switch fn {
	case AggCount:
		var n int64
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+string(table)+where, args...).Scan(&n)
		if err != nil {
			return 0, unavailable("aggregate count", err)
		}
		return float64(n), nil

	case AggStdDev:
		values, err := s.columnValues(ctx, table, column, where, args)
		if err != nil {
			return 0, err
		}
		if len(values) == 0 {
			return 0, fmt.Errorf("%w: no %s rows for stddev(%s)", ErrAggregation, table, column)
		}
		return stddev(values), nil

	default:
		var v sql.NullFloat64
		q := fmt.Sprintf("SELECT %s(%s) FROM %s%s", strings.ToUpper(string(fn)), column, table, where)
		if err := s.db.QueryRowContext(ctx, q, args...).Scan(&v); err != nil {
			return 0, unavailable("aggregate "+string(fn), err)
		}
		if !v.Valid {
			return 0, fmt.Errorf("%w: no %s rows for %s(%s)", ErrAggregation, table, fn, column)
		}
		return v.Float64, nil
	}
}

func (s *Store) columnValues(ctx context.Context, table Table, column, where string, args []any) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+" FROM "+string(table)+where, args...)
	if err != nil {
		return nil, unavailable("read "+column, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("scan "+column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate "+column, err)
	}
	return values, nil
}

func stddev(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(values)))
}

// CleanupOldMetrics deletes rows older than retentionDays from every table
// in one transaction and returns the number deleted per table.
func (s *Store) CleanupOldMetrics(ctx context.Context, retentionDays int) (map[Table]int64, error) {
	if retentionDays < 0 {
		return nil, fmt.Errorf("retention days must be non-negative, got %d", retentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays).UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin cleanup", err)
	}
	defer tx.Rollback()

	deleted := make(map[Table]int64, len(Tables))
	var total int64
	for _, table := range Tables {
		res, err := tx.ExecContext(ctx, "DELETE FROM "+string(table)+" WHERE timestamp < ?", cutoff)
		if err != nil {
			return nil, unavailable("cleanup "+string(table), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, unavailable("cleanup "+string(table), err)
		}
		deleted[table] = n
		total += n
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit cleanup", err)
	}

	logger.InfoCF("metrics", "Retention sweep complete", map[string]any{
		"retention_days": retentionDays,
		"deleted":        total,
	})
	return deleted, nil
}

// Vacuum reclaims space left by deleted rows.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return unavailable("vacuum", err)
	}
	return nil
}

// AgentUptime returns the span between the first and last agent metric
// recorded for agentID inside tr. An agent with fewer than two samples has
// zero uptime.
func (s *Store) AgentUptime(ctx context.Context, agentID string, tr TimeRange) (time.Duration, error) {
	where, args, err := buildWhere(TableAgent, map[string]any{"agent_id": agentID}, tr)
	if err != nil {
		return 0, err
	}
	var first, last sql.NullInt64
	err = s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM agent_metrics"+where, args...).
		Scan(&first, &last)
	if err != nil {
		return 0, unavailable("agent uptime", err)
	}
	if !first.Valid || !last.Valid {
		return 0, nil
	}
	return time.Duration(last.Int64 - first.Int64), nil
}

// Throughput returns successful tasks per hour for swarmID over tr. An
// empty swarmID counts every swarm. tr must be bounded on both sides.
func (s *Store) Throughput(ctx context.Context, swarmID string, tr TimeRange) (float64, error) {
	hours := tr.Hours()
	if hours <= 0 {
		return 0, fmt.Errorf("%w: throughput needs a bounded, non-empty time range", ErrAggregation)
	}
	equals := map[string]any{"result": ResultSuccess}
	if swarmID != "" {
		equals["swarm_id"] = swarmID
	}
	n, err := s.Aggregate(ctx, TableTask, AggCount, "", tr, equals)
	if err != nil {
		return 0, err
	}
	return n / hours, nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch x := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if x == nil {
			return sql.NullString{}, nil
		}
	case []string:
		if x == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("%w: encode metadata: %w", ErrInvalidRecord, err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString, dst any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

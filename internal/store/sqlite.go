package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

const transitionSchema = `
CREATE TABLE IF NOT EXISTS instance_transition_v1 (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	client_id TEXT NOT NULL UNIQUE,
	instance_id TEXT NOT NULL,
	tenant TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state TEXT NOT NULL,
	exit_reason TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transition_instance ON instance_transition_v1 (instance_id);
`

const metricsSchema = `
CREATE TABLE IF NOT EXISTS instance_metrics_v1 (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	instance_id TEXT NOT NULL,
	cpu_percent REAL NOT NULL,
	memory_mb REAL NOT NULL,
	uptime_seconds INTEGER NOT NULL,
	request_count INTEGER NOT NULL,
	error_count INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_instance ON instance_metrics_v1 (instance_id);
`

const logSchema = `
CREATE TABLE IF NOT EXISTS instance_log_v1 (
	id INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL,
	instance_id TEXT NOT NULL,
	source TEXT NOT NULL,
	message TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_instance ON instance_log_v1 (instance_id);
`

const insertTransitionSQL = `
INSERT INTO instance_transition_v1 (client_id, instance_id, tenant, from_state, to_state, exit_reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (client_id) DO NOTHING;
`

const insertMetricsSQL = `
INSERT INTO instance_metrics_v1 (instance_id, cpu_percent, memory_mb, uptime_seconds, request_count, error_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

const insertLogSQL = `
INSERT INTO instance_log_v1 (instance_id, source, message, created_at)
VALUES ($1, $2, $3, $4);
`

// SQLiteSink persists engine records to a SQLite database.
type SQLiteSink struct {
	db *sqlx.DB
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite opens (creating if needed) the database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	for _, schema := range []string{transitionSchema, metricsSchema, logSchema} {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("init store schema: %w", err)
		}
	}

	return &SQLiteSink{db: db}, nil
}

// RecordTransition implements Sink. The client id is derived from the
// transition itself, so a retried write of the same transition lands on
// the existing row instead of duplicating it.
//
// The lifecycle is strictly progressive with terminal Stopped/Crashed, so
// an instance traverses each edge at most once and the derived id is
// unique per row.
func (s *SQLiteSink) RecordTransition(ctx context.Context, instanceID, tenant, from, to, exitReason string) error {
	_, err := s.db.ExecContext(ctx, insertTransitionSQL,
		transitionClientID(instanceID, from, to), instanceID, tenant, from, to, exitReason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}

	return nil
}

// transitionClientID is the stable dedupe key for one lifecycle edge.
func transitionClientID(instanceID, from, to string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(instanceID+"|"+from+"|"+to)).String()
}

// RecordMetrics implements Sink.
func (s *SQLiteSink) RecordMetrics(ctx context.Context, instanceID string, m MetricsRecord) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertMetricsSQL,
		instanceID, m.CPUPercent, m.MemoryMB, m.UptimeSeconds, m.RequestCount, m.ErrorCount, ts)
	if err != nil {
		return fmt.Errorf("record metrics: %w", err)
	}

	return nil
}

// RecordLog implements Sink.
func (s *SQLiteSink) RecordLog(ctx context.Context, instanceID, source, message string) error {
	_, err := s.db.ExecContext(ctx, insertLogSQL, instanceID, source, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record log: %w", err)
	}

	return nil
}

// Close implements Sink.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

package store

import (
	"context"
	"time"
)

// Sink receives lifecycle transitions, metrics snapshots and process log
// lines from the engine. Implementations persist them; the engine never
// reads anything back. A restarted orchestrator starts from an empty
// registry regardless of what the sink holds.
type Sink interface {
	// RecordTransition persists a lifecycle state change for an instance.
	RecordTransition(ctx context.Context, instanceID, tenant, from, to, exitReason string) error

	// RecordMetrics persists one metrics snapshot for an instance.
	RecordMetrics(ctx context.Context, instanceID string, m MetricsRecord) error

	// RecordLog persists one process log line.
	RecordLog(ctx context.Context, instanceID, source, message string) error

	// Close releases the underlying resources.
	Close() error
}

// MetricsRecord is the persisted shape of a metrics snapshot.
type MetricsRecord struct {
	CPUPercent    float64
	MemoryMB      float64
	UptimeSeconds int64
	RequestCount  int64
	ErrorCount    int64
	Timestamp     time.Time
}

// nopSink discards everything.
type nopSink struct{}

// Nop returns a Sink that discards all records. It is the default when no
// durable store is configured.
func Nop() Sink {
	return nopSink{}
}

func (nopSink) RecordTransition(context.Context, string, string, string, string, string) error {
	return nil
}

func (nopSink) RecordMetrics(context.Context, string, MetricsRecord) error { return nil }

func (nopSink) RecordLog(context.Context, string, string, string) error { return nil }

func (nopSink) Close() error { return nil }

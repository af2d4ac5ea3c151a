// Package store is the write-only durable sink for lifecycle transitions,
// metrics snapshots and process log lines. The engine only ever writes;
// cold state is never reconstructed from storage.
package store

// Package hub is the per-instance event fan-out: a bounded replay ring of
// sequenced events with any number of independent subscribers resuming
// from a cursor.
package hub

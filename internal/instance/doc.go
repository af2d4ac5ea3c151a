// Package instance implements the per-instance lifecycle state machine:
// Created, Starting, Running, Stopping, Stopped, with terminal Crashed.
// A Manager composes the process handle, the request correlator and the
// event hub, and supervises crashes, resource ceilings and idle eviction.
package instance

// Package registry maintains the process-wide table of live instance
// managers with race-free per-tenant admission control.
package registry

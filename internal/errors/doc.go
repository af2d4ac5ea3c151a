// Package errors defines the error taxonomy for the orchestration engine.
//
// Typed errors carry structured detail (exit codes, raw frames, limits);
// sentinel errors cover conditions callers check with errors.Is.
package errors

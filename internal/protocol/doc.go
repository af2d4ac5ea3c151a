// Package protocol implements the line-oriented JSON-RPC frame model and
// the request correlator that matches concurrent outgoing requests to
// inbound responses by id.
//
// Responses may arrive in any order relative to request issue order; the
// id match restores correctness, not arrival order.
package protocol

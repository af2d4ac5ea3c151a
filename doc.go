// Package orchestrator deploys and operates third-party MCP tool-server
// processes on behalf of many tenants. Each running process is exposed as
// an addressable instance that callers command via line-oriented JSON-RPC
// calls and observe via a live, resumable event stream.
//
// # Basic Usage
//
// Create a registry, then create instances from deployment-ready configs:
//
//	reg := orchestrator.New(
//	    orchestrator.WithLogger(slog.Default()),
//	)
//	defer reg.Close(ctx)
//
//	id, err := reg.Create(ctx, "tenant-a", orchestrator.InstanceConfig{
//	    Command: "weather-server",
//	    Args:    []string{"--stdio"},
//	    Limits: orchestrator.ResourceLimits{
//	        MaxMemoryMB: 256,
//	        IdleTimeout: 10 * time.Minute,
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, _ := reg.Get(id)
//	result, err := inst.Execute(ctx, "tools/list", nil)
//
// # Streaming
//
// Every instance publishes its asynchronous output (notifications, stderr
// lines, heartbeats, a terminal disconnect on crash) as sequenced events.
// Subscribers attach at a cursor and resume after reconnects:
//
//	sub, err := inst.Stream(ctx, lastSeenSequence)
//	if err != nil {
//	    // ErrCursorTooOld: the cursor aged out of the replay ring;
//	    // resync from a fresh snapshot instead of assuming continuity.
//	}
//	for ev := range sub.Events() {
//	    fmt.Println(ev.Sequence, ev.Type, ev.Method)
//	}
//
// # Error Handling
//
// Failures surface as typed errors and sentinels:
//
//	result, err := inst.Execute(ctx, "tools/call", params)
//	switch {
//	case errors.Is(err, orchestrator.ErrCallTimeout):
//	    // no response within the deadline; the instance is still up
//	case errors.Is(err, orchestrator.ErrProcessExited):
//	    // the process died with this request pending
//	case errors.Is(err, orchestrator.ErrInstanceNotRunning):
//	    // instance is stopped, stopping, or crashed
//	}
//
// The engine assumes executables are already materialized by an external
// deployment pipeline; it only starts, supervises, drives and tears down
// the resulting processes. Authentication, HTTP routing, persistence
// schemas and rate-limit policy are collaborators' concerns.
package orchestrator

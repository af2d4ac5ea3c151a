// Package subprocess owns one OS process per handle: spawning with a
// restricted environment, serialized stdin frame writes, a single stdout
// reader loop, stderr capture, and terminate-with-grace shutdown.
package subprocess

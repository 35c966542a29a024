// Package testutil provides handlers and helpers for tests of the runtime
// and of code built on it.
//
// Handlers:
//   - Generator writes a Frame per tick to a "video" output.
//   - Sink reads the latest Frame per tick and records distinct frames.
//   - Failing returns an error, or panics, from Process.
//   - SlowStop takes a configurable time to return from OnStop.
//   - MockHandler has pluggable hooks and call counters.
//
// EventRecorder subscribes to a bus and keeps every event it receives.
// WaitFor polls a condition; tests using testify usually prefer
// require.Eventually.
package testutil

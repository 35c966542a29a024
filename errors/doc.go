// Package errors provides standardized error handling for the streamlib runtime.
//
// # Overview
//
// Errors are sorted into three classes so callers can decide what to do
// without matching on strings:
//
//   - Invalid: graph construction problems (mismatched port kinds, no bridge for a
//     capability pair, double activation). These surface synchronously from
//     Connect and AddStream, before Start.
//   - Transient: conditions that may clear on their own (a handler missing its
//     shutdown grace period, a clock sync source that is not reachable yet).
//   - Fatal: failures that end a loop for good (the clock loop giving up).
//
// # Wrapping
//
// All wrapping follows the format
//
//	"component.method: action failed: %w"
//
// and comes in classification-aware flavours:
//
//	errors.WrapInvalid(errors.ErrNoBridge, "Runtime", "Connect", "bridge lookup")
//	errors.WrapTransient(err, "Runner", "Deactivate", "grace wait")
//	errors.WrapFatal(err, "Runtime", "clockLoop", "next tick")
//
// Wrap keeps whatever class the wrapped error already has.
//
// Per-tick processing errors are never returned to a caller. The run-loop turns
// them into error events on the bus; see package eventbus.
package errors

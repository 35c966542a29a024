// Package clock provides the periodic tick sources that drive a runtime.
//
// Every Clock returns TimedTick values with strictly increasing frame numbers
// from NextTick, which suspends until the next period boundary and honors
// context cancellation.
//
// # Implementations
//
//   - FreeRunning paces from the monotonic clock: tick n is due at
//     start + n/fps. Timestamps come from the wall clock. A late caller gets
//     its tick immediately and the frame number still advances by exactly one;
//     late frames are not reported or corrected.
//   - PTP and Genlock follow an external reference (a SyncSource offset or a
//     PulseSource of hardware pulses). Lock acquires the reference with
//     exponential backoff from pkg/retry. When it cannot, the clock logs a
//     warning, reports ModeFreeRunning from Mode, returns an
//     ErrClockUnavailable error from Lock, and keeps ticking free-running.
//     It never pretends to a precision it does not have.
//   - Manual ticks only when stepped and is meant for tests.
//
// New builds a clock from a configured Kind.
package clock

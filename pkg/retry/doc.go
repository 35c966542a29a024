// Package retry runs an operation with exponential backoff.
//
// The runtime's tick path never retries; a failed Process call is reported and
// the next tick simply arrives. Retry is for acquiring things that may take a
// moment to appear, mainly the sync source of a PTP or genlock clock:
//
//	offset, err := retry.DoWithResult(ctx, retry.Sync(), func() (time.Duration, error) {
//	    return source.Acquire(ctx)
//	})
//
// Errors wrapped with Permanent, or classified invalid or fatal through the
// errors package, end the loop immediately. Exhausting the attempts returns the
// last error wrapped as transient. Context cancellation is honored both during
// the operation and during backoff.
package retry

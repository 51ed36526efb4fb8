// Package dispatch issues one control command to one daemon under a deadline.
//
// Each Dispatch runs the connect/call/close sequence on its own worker
// goroutine while the caller waits for whichever comes first: the reply, the
// deadline, or cancellation of the caller's context (a user interrupt).
//
// Key features:
//   - One worker per dispatch; the caller never blocks on daemon I/O
//   - The connection is closed exactly once, by whichever side ends first
//   - Bounded teardown: a dispatch returns within deadline + grace
//
// Timeout handling:
//   - The deadline comes from the request, falling back to the unit default
//   - When it expires the connection is closed under the worker, which makes
//     its pending Call return, and the worker context is cancelled to stop a
//     pending connect
//   - The caller then waits up to the grace period for the worker to exit;
//     past that the worker is abandoned and the outcome is marked so
//
// Outcomes:
//   - Reply received → Success
//   - Deadline first → Timeout
//   - Caller context cancelled first → Cancelled
//   - Connect/call failure, remote error reply or worker panic → TransportError
//
// Timeouts and interrupts are never retried.
package dispatch

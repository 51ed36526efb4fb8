// Package dump runs a diagnostic dump session for one feature.
//
// A session resolves the feature table, opens the report destination and
// asks each diagnosable daemon of the feature, in configuration order, for
// its basic diagnostic dump. Replies are appended to the report as they
// arrive; failures are reported on the console and counted.
//
// Lifecycle:
//
//	init → resolving → failed
//	                 → dispatching → completed | interrupted | failed
//
// Key features:
//   - Strictly sequential dispatch, at most one daemon request in flight
//   - One session per process, and per host when a lock path is configured
//   - Two-stage user interrupt: no new daemons after the first request, the
//     in-flight one is torn down when the grace period ends or on abort
//   - Report write failures end the session immediately
//   - Every session that got past resolution is recorded in history and
//     published on the event hub
package dump

// Package sched runs periodic in-process tasks on a single fixed-tick loop.
//
// Each tick the loop:
//   - snapshots the entries that are due (now - LastRun >= Interval)
//   - runs them concurrently and waits for all of them
//   - sleeps for the shortest registered interval minus the time the tick took
//
// Failures are isolated per entry: they are recorded on the entry and routed to
// an optional error handler, and never stop the loop. Stop is cooperative; it
// never cancels a task that is already running.
package sched

// Package storage keeps an optional journal of task runs.
//
// It records what happened (one row per invocation) for operators; it is never
// read back to restore scheduler state.
package storage

package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one task invocation.
// Keep it compact and schema-stable.
type RunRecord struct {
	EntryID    string    `json:"entry_id"`
	Name       string    `json:"name"`
	Tick       time.Time `json:"tick"`
	IntervalMS int64     `json:"interval_ms"`
	DurationMS int64     `json:"duration_ms"`
	OK         bool      `json:"ok"`
	Ignored    bool      `json:"ignored,omitempty"`
	Error      string    `json:"error,omitempty"`
}

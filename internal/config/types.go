package config

import (
	"time"

	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

// Task kinds understood by internal/tasks.
const (
	KindLog   = "log"
	KindExec  = "exec"
	KindPrune = "prune"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is optional; when omitted run history is not persisted.
	Storage *StorageConfig `json:"storage,omitempty"`
	History HistoryConfig  `json:"history"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig declares the entries registered at startup.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// ReportEvery rate-limits failure logs per entry (Go duration, default 30s).
	ReportEvery string       `json:"report_every,omitempty"`
	Tasks       []TaskConfig `json:"tasks" validate:"dive"`
}

// TaskConfig is one scheduled entry.
//
// Interval accepts Go durations ("10s"), "@every 1m", "every:5m" or "HH:MM".
// Only the fields relevant to Kind are read.
type TaskConfig struct {
	Name        string `json:"name" validate:"required,max=64"`
	Kind        string `json:"kind" validate:"required,oneof=log exec prune"`
	Interval    string `json:"interval" validate:"required"`
	IgnoreError bool   `json:"ignore_error,omitempty"`
	Timeout     string `json:"timeout,omitempty"`

	// log
	Message string `json:"message,omitempty"`

	// exec
	Command string   `json:"command,omitempty" validate:"required_if=Kind exec"`
	Args    []string `json:"args,omitempty"`

	// prune
	Retention string `json:"retention,omitempty" validate:"required_if=Kind prune"`
}

// StorageConfig controls run-history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tickd.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type HistoryConfig struct {
	// Buffer is the recorder's event queue size.
	Buffer int `json:"buffer,omitempty" validate:"gte=0,lte=65536"`
}

// LogConfig maps the logging section onto the logx service config.
func (c *Config) LogConfig() logx.Config {
	if c == nil {
		return logx.Config{Level: "info", Console: true}
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

// StoreConfig maps the storage section onto the storage config.
// A missing section yields a disabled store.
func (c *Config) StoreConfig() (storage.Config, error) {
	if c == nil || c.Storage == nil {
		return storage.Config{}, nil
	}
	bt, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: bt,
	}, nil
}

// ReportEvery returns the failure log interval; 0 means the reporter default.
func (c *Config) ReportEvery() time.Duration {
	if c == nil {
		return 0
	}
	d, _ := ParseDurationField("scheduler.report_every", c.Scheduler.ReportEvery)
	return d
}

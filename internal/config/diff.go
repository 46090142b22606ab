package config

import (
	"reflect"
	"strings"

	logx "tickd/pkg/logx"
)

// Section names reported by SummarizeChange.
const (
	SectionLogging   = "logging"
	SectionScheduler = "scheduler"
	SectionStorage   = "storage"
	SectionHistory   = "history"
)

// SummarizeChange returns the changed top-level sections and safe log
// attributes describing the new values. Command arguments are never logged.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.ReportEvery) != strings.TrimSpace(newCfg.Scheduler.ReportEvery) ||
		!reflect.DeepEqual(oldCfg.Scheduler.Tasks, newCfg.Scheduler.Tasks) {
		changed = append(changed, SectionScheduler)
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.tasks", len(newCfg.Scheduler.Tasks)),
		)
	}

	var oldStore, newStore StorageConfig
	if oldCfg.Storage != nil {
		oldStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newStore = *newCfg.Storage
	}
	if oldStore != newStore {
		changed = append(changed, SectionStorage)
		attrs = append(attrs, logx.String("storage.driver", newStore.Driver))
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, SectionHistory)
		attrs = append(attrs, logx.Int("history.buffer", newCfg.History.Buffer))
	}

	return changed, attrs
}

// RequiresRestart reports whether any of the sections can only take effect
// after the process is restarted. Only logging is applied live.
func RequiresRestart(sections []string) bool {
	for _, s := range sections {
		if s != SectionLogging {
			return true
		}
	}
	return false
}

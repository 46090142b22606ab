// Package tasks builds scheduler entries from the task kinds that can be
// declared in the config file.
package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"tickd/internal/config"
	"tickd/internal/sched"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

var (
	ErrUnknownKind     = errors.New("unknown task kind")
	ErrStorageDisabled = config.ErrPruneWithoutStorage
)

const maxOutputTail = 512

// Deps are the shared services a task may use.
type Deps struct {
	Log   logx.Logger
	Store storage.Store
	Now   func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Build returns an unattached entry for cfg. The caller adds it to a scheduler.
func Build(cfg config.TaskConfig, deps Deps) (*sched.Entry, error) {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	every, err := sched.ParseInterval(cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", cfg.Name, err)
	}
	timeout, err := config.ParseDurationField("timeout", cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", cfg.Name, err)
	}

	log := deps.Log.With(logx.String("task", cfg.Name), logx.String("kind", cfg.Kind))

	var task sched.Task
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.KindLog:
		task = logTask(log, cfg.Message)
	case config.KindExec:
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("task %q: command required", cfg.Name)
		}
		task = execTask(log, cfg.Command, cfg.Args)
	case config.KindPrune:
		if deps.Store == nil {
			return nil, fmt.Errorf("task %q: %w", cfg.Name, ErrStorageDisabled)
		}
		keep, err := config.ParseDurationField("retention", cfg.Retention)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", cfg.Name, err)
		}
		if keep <= 0 {
			return nil, fmt.Errorf("task %q: retention must be > 0", cfg.Name)
		}
		task = pruneTask(log, deps, keep)
	default:
		return nil, fmt.Errorf("task %q: %w: %q", cfg.Name, ErrUnknownKind, cfg.Kind)
	}

	if timeout > 0 {
		task = withTimeout(task, timeout)
	}

	e := sched.NewEntry(cfg.Name, every, task)
	e.IgnoreError = cfg.IgnoreError
	return e, nil
}

func withTimeout(t sched.Task, d time.Duration) sched.Task {
	return sched.TaskFunc(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return t.Run(ctx)
	})
}

func logTask(log logx.Logger, msg string) sched.Task {
	if strings.TrimSpace(msg) == "" {
		msg = "heartbeat"
	}
	return sched.TaskFunc(func(context.Context) error {
		log.Info(msg)
		return nil
	})
}

func execTask(log logx.Logger, command string, args []string) sched.Task {
	args = append([]string(nil), args...)
	return sched.TaskFunc(func(ctx context.Context) error {
		var out bytes.Buffer
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Stdout = &out
		cmd.Stderr = &out
		// Give the process a moment to exit after ctx ends before Wait gives up.
		cmd.WaitDelay = 2 * time.Second

		start := time.Now()
		err := cmd.Run()
		dur := time.Since(start)
		if err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%w (%v)", ctx.Err(), err)
			}
			if tail := outputTail(out.Bytes()); tail != "" {
				return fmt.Errorf("%s: %w: %s", command, err, tail)
			}
			return fmt.Errorf("%s: %w", command, err)
		}
		log.Debug("command finished",
			logx.String("command", command),
			logx.Duration("took", dur),
			logx.Int("output_bytes", out.Len()),
		)
		return nil
	})
}

func outputTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}

func pruneTask(log logx.Logger, deps Deps, keep time.Duration) sched.Task {
	return sched.TaskFunc(func(ctx context.Context) error {
		cutoff := deps.now().Add(-keep)
		n, err := deps.Store.PruneRuns(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		if n > 0 {
			log.Info("run history pruned", logx.Int("removed", n), logx.Time("before", cutoff))
		}
		return nil
	})
}

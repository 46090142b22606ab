package sched

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"tickd/internal/eventbus"
	logx "tickd/pkg/logx"
)

// RunEvent is published on the bus for every invocation.
type RunEvent struct {
	EntryID  string        `json:"entry_id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Tick     time.Time     `json:"tick"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Ignored  bool          `json:"ignored,omitempty"`
}

// invoke runs one entry for the tick at now. LastRun is set to now whatever
// the outcome, so a failing entry still waits a full interval before retrying.
// The returned error is the task's failure, for tick accounting only.
func (s *Scheduler) invoke(ctx context.Context, e *Entry, now time.Time) error {
	start := s.clock.Now()
	err := runTask(ctx, e.Task)
	dur := s.clock.Since(start)

	e.record(now, err)

	ev := RunEvent{EntryID: e.ID, Name: e.Name, Interval: e.Interval, Tick: now, Duration: dur}
	if err == nil {
		s.log.Debug("entry finished", logx.String("entry", e.Name), logx.Duration("dur", dur))
		s.publish(eventbus.TypeEntryFinished, s.clock.Now().UTC(), ev)
		return nil
	}

	ev.Error = err.Error()
	var pe *PanicError
	if errors.As(err, &pe) {
		s.log.Error("entry panic", logx.String("entry", e.Name), logx.Any("panic", pe.Value), logx.Stack(string(pe.Stack)))
	}
	if e.IgnoreError {
		ev.Ignored = true
		s.log.Trace("entry failure ignored", logx.String("entry", e.Name), logx.Err(err))
		s.publish(eventbus.TypeEntryFailed, s.clock.Now().UTC(), ev)
		return err
	}

	s.publish(eventbus.TypeEntryFailed, s.clock.Now().UTC(), ev)
	s.notify(e)
	return err
}

// runTask converts a panic into an error so one bad task can't take the loop down.
func runTask(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return t.Run(ctx)
}

func (s *Scheduler) notify(e *Entry) {
	fn := s.errorHandler()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("error handler panic", logx.String("entry", e.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	fn(e)
}

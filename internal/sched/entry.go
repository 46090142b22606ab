package sched

import (
	"sync"
	"time"
)

// Entry is one registered periodic task.
//
// ID, Name, Task, Interval and IgnoreError are configuration and must not be
// modified after the entry is passed to Scheduler.Add. Run bookkeeping is kept
// behind accessors because invocations update it from the loop's goroutines.
type Entry struct {
	ID          string
	Name        string
	Task        Task
	Interval    time.Duration
	IgnoreError bool

	mu       sync.Mutex
	sched    *Scheduler
	lastRun  time.Time
	err      error
	runs     uint64
	failures uint64
	ignored  uint64
}

// NewEntry is a convenience constructor for the common case.
func NewEntry(name string, every time.Duration, task Task) *Entry {
	return &Entry{Name: name, Interval: every, Task: task}
}

// Scheduler returns the scheduler the entry was added to, or nil.
func (e *Entry) Scheduler() *Scheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched
}

// LastRun is the tick time of the latest invocation (UTC), zero before the first run.
func (e *Entry) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// Err is the last reported failure. A successful run clears it; an ignored
// failure leaves it untouched.
func (e *Entry) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Runs is the number of completed invocations, whatever their outcome.
func (e *Entry) Runs() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}

// Next is when the entry becomes due. Zero means due on the next tick.
func (e *Entry) Next() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastRun.IsZero() {
		return time.Time{}
	}
	return e.lastRun.Add(e.Interval)
}

// Due reports whether at least Interval has passed since the last run.
// An entry that never ran is always due.
func (e *Entry) Due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastRun.IsZero() {
		return true
	}
	return now.Sub(e.lastRun) >= e.Interval
}

func (e *Entry) attach(s *Scheduler) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sched != nil {
		return false
	}
	e.sched = s
	return true
}

func (e *Entry) record(at time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastRun = at
	e.runs++
	switch {
	case err == nil:
		e.err = nil
	case e.IgnoreError:
		e.ignored++
	default:
		e.err = err
		e.failures++
	}
}

// EntryInfo is a point-in-time view of an entry for diagnostics.
type EntryInfo struct {
	ID          string
	Name        string
	Interval    time.Duration
	IgnoreError bool
	LastRun     time.Time
	Next        time.Time
	Runs        uint64
	Failures    uint64
	Ignored     uint64
	Error       string
}

func (e *Entry) info() EntryInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	it := EntryInfo{
		ID:          e.ID,
		Name:        e.Name,
		Interval:    e.Interval,
		IgnoreError: e.IgnoreError,
		LastRun:     e.lastRun,
		Runs:        e.runs,
		Failures:    e.failures,
		Ignored:     e.ignored,
	}
	if !e.lastRun.IsZero() {
		it.Next = e.lastRun.Add(e.Interval)
	}
	if e.err != nil {
		it.Error = e.err.Error()
	}
	return it
}

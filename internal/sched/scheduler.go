package sched

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"tickd/internal/eventbus"
	logx "tickd/pkg/logx"
)

// ErrorHandler is called with an entry whose task failed and is not flagged IgnoreError.
type ErrorHandler func(e *Entry)

type Option func(*Scheduler)

// WithClock replaces the wall clock (tests use clockwork.NewFakeClock).
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithErrorHandler(fn ErrorHandler) Option {
	return func(s *Scheduler) { s.onError = fn }
}

// Scheduler owns a set of entries and the loop that runs them.
type Scheduler struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock clockwork.Clock

	// mu guards entries. The loop copies what it needs under RLock so Add
	// never races with iteration.
	mu      sync.RWMutex
	entries []*Entry

	// stateMu guards the lifecycle fields and the error handler.
	stateMu sync.Mutex
	onError ErrorHandler
	running bool
	started time.Time
	stopCh  chan struct{}
	done    chan struct{}
	ticks   uint64
}

// New returns an empty scheduler. bus may be nil.
func New(log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	done := make(chan struct{})
	close(done)
	s := &Scheduler{
		log:   log,
		bus:   bus,
		clock: clockwork.NewRealClock(),
		done:  done,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) SetErrorHandler(fn ErrorHandler) {
	s.stateMu.Lock()
	s.onError = fn
	s.stateMu.Unlock()
}

func (s *Scheduler) errorHandler() ErrorHandler {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.onError
}

// Add registers an entry. Interval is normalised to whole seconds (minimum 1s).
// Entries may be added while the loop runs; they are picked up on the next tick.
func (s *Scheduler) Add(e *Entry) error {
	if e == nil {
		return newConfigError("entry", "rejected", ErrNilEntry)
	}
	if e.Task == nil {
		return newConfigError("task", "rejected entry "+quoteName(e), ErrNilTask)
	}
	if e.Interval <= 0 {
		return newConfigError("interval", "rejected entry "+quoteName(e)+" ("+e.Interval.String()+")", ErrInvalidInterval)
	}
	if !e.attach(s) {
		return newConfigError("entry", "rejected entry "+quoteName(e), ErrAlreadyAdded)
	}
	e.Interval = NormalizeInterval(e.Interval)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if strings.TrimSpace(e.Name) == "" {
		e.Name = e.ID
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	n := len(s.entries)
	s.mu.Unlock()

	args := []logx.Field{logx.String("entry", e.Name), logx.String("id", e.ID), logx.Duration("interval", e.Interval), logx.Bool("ignore_error", e.IgnoreError), logx.Int("entries", n)}
	if s.log.Enabled(logx.LevelDebug) {
		if next := previewNextRuns(e.Interval, s.clock.Now(), 3); next != "" {
			args = append(args, logx.String("next", next))
		}
	}
	s.log.Debug("entry added", args...)
	return nil
}

func quoteName(e *Entry) string {
	if e.Name != "" {
		return `"` + e.Name + `"`
	}
	return "<unnamed>"
}

// Len is the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the entry list.
func (s *Scheduler) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ShortestInterval is the minimum Interval across all entries, recomputed on
// every call. It is 0 when there are no entries.
func (s *Scheduler) ShortestInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var shortest time.Duration
	for i, e := range s.entries {
		if i == 0 || e.Interval < shortest {
			shortest = e.Interval
		}
	}
	return shortest
}

// Started is when the loop last began (UTC); zero if it never ran.
func (s *Scheduler) Started() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.started
}

func (s *Scheduler) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// Start launches the loop in the background and returns immediately.
//
// It does nothing when there are no entries or the loop is already running.
// ctx is the parent of every task invocation's context; cancelling it also
// stops the loop at the next tick boundary.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.Len() == 0 {
		s.log.Debug("start skipped: no entries")
		return
	}

	s.stateMu.Lock()
	if s.running {
		s.stateMu.Unlock()
		return
	}
	s.running = true
	s.started = s.clock.Now().UTC()
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh = stopCh
	s.done = done
	started := s.started
	s.stateMu.Unlock()

	s.log.Info("scheduler started", logx.Int("entries", s.Len()), logx.Duration("shortest_interval", s.ShortestInterval()), logx.Time("started", started))
	go s.loop(ctx, stopCh, done)
}

// Stop asks the loop to exit. It returns immediately; a tick in progress runs
// to completion first. Use Done or Wait to observe the exit.
func (s *Scheduler) Stop() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.running || s.stopCh == nil {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
		s.log.Debug("stop requested")
	}
}

// Done is closed once the current loop has exited. It is already closed when
// no loop was ever started.
func (s *Scheduler) Done() <-chan struct{} {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.done
}

// Wait blocks until the loop exits or ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan struct{}) {
	defer func() {
		s.stateMu.Lock()
		s.running = false
		ticks := s.ticks
		s.stateMu.Unlock()
		close(done)
		s.publish(eventbus.TypeLoopStopped, s.clock.Now().UTC(), nil)
		s.log.Info("scheduler stopped", logx.Uint64("ticks", ticks))
	}()

	for {
		if stopRequested(ctx, stopCh) || s.Len() == 0 {
			return
		}

		now := s.clock.Now().UTC()
		s.tick(ctx, now)

		sleep := sleepAfterTick(s.ShortestInterval(), s.clock.Since(now))
		if sleep <= 0 {
			continue
		}
		timer := s.clock.NewTimer(sleep)
		select {
		case <-timer.Chan():
		case <-stopCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
		}
	}
}

func stopRequested(ctx context.Context, stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sleepAfterTick subtracts the whole seconds the tick took from the shortest
// interval, so the next tick never starts before the shortest entry is due.
// A non-positive result means the next tick starts immediately.
func sleepAfterTick(shortest, elapsed time.Duration) time.Duration {
	return shortest - elapsed.Truncate(time.Second)
}

// TickEvent is published after every tick that ran at least one entry.
type TickEvent struct {
	Time    time.Time     `json:"time"`
	Due     int           `json:"due"`
	Failed  int           `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	due := s.dueEntries(now)

	s.stateMu.Lock()
	s.ticks++
	s.stateMu.Unlock()

	if len(due) == 0 {
		return
	}
	s.publish(eventbus.TypeTickStarted, now, TickEvent{Time: now, Due: len(due)})

	var (
		g      errgroup.Group
		failMu sync.Mutex
		failed int
	)
	for _, e := range due {
		g.Go(func() error {
			if err := s.invoke(ctx, e, now); err != nil {
				failMu.Lock()
				failed++
				failMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := s.clock.Since(now)
	s.log.Trace("tick finished", logx.Int("due", len(due)), logx.Int("failed", failed), logx.Duration("elapsed", elapsed))
	s.publish(eventbus.TypeTickFinished, s.clock.Now().UTC(), TickEvent{Time: now, Due: len(due), Failed: failed, Elapsed: elapsed})
}

func (s *Scheduler) dueEntries(now time.Time) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	due := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Due(now) {
			due = append(due, e)
		}
	}
	return due
}

func (s *Scheduler) publish(typ string, at time.Time, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

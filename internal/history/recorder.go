// Package history turns scheduler run events into storage records.
package history

import (
	"context"
	"sync/atomic"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/sched"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

const (
	defaultBuffer = 256
	writeTimeout  = 2 * time.Second
)

// Recorder appends one storage.RunRecord per sched.entry.* event.
type Recorder struct {
	store storage.Store
	log   logx.Logger

	ch    <-chan eventbus.Event
	unsub func()

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder subscribes immediately so no event published after it returns is missed.
func NewRecorder(bus eventbus.Bus, store storage.Store, buffer int, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch, unsub := bus.Subscribe(buffer)
	return &Recorder{store: store, log: log, ch: ch, unsub: unsub}
}

// Run consumes events until ctx ends, then drains what is already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.unsub()
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			r.handle(ev)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case ev, ok := <-r.ch:
			if !ok {
				return
			}
			r.handle(ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ev eventbus.Event) {
	if ev.Type != eventbus.TypeEntryFinished && ev.Type != eventbus.TypeEntryFailed {
		return
	}
	re, ok := ev.Data.(sched.RunEvent)
	if !ok || r.store == nil {
		return
	}
	rec := storage.RunRecord{
		EntryID:    re.EntryID,
		Name:       re.Name,
		Tick:       re.Tick,
		IntervalMS: re.Interval.Milliseconds(),
		DurationMS: re.Duration.Milliseconds(),
		OK:         re.Error == "",
		Ignored:    re.Ignored,
		Error:      re.Error,
	}

	// Writes must not be tied to the run context: drain happens after it is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.AppendRun(ctx, rec); err != nil {
		r.failed.Add(1)
		r.log.Warn("run record write failed", logx.String("entry", re.Name), logx.Err(err))
		return
	}
	r.written.Add(1)
}

// Written is the number of records stored so far.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Failed is the number of records the store rejected.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

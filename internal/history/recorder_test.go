package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickd/internal/eventbus"
	"tickd/internal/sched"
	"tickd/internal/storage"
	logx "tickd/pkg/logx"
)

type memStore struct {
	mu   sync.Mutex
	runs []storage.RunRecord
	fail bool
}

func (m *memStore) AppendRun(_ context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("read-only")
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.RunRecord(nil), m.runs...), nil
}

func (m *memStore) PruneRuns(context.Context, time.Time) (int, error) { return 0, nil }
func (m *memStore) Close() error                                      { return nil }

func TestRecorderStoresEntryEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := &memStore{}
	rec := NewRecorder(bus, st, 16, logx.Nop())

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: eventbus.TypeTickStarted, Data: sched.TickEvent{Time: tick, Due: 2}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeEntryFinished, Data: sched.RunEvent{EntryID: "a", Name: "ok", Interval: time.Second, Tick: tick, Duration: 5 * time.Millisecond}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeEntryFailed, Data: sched.RunEvent{EntryID: "b", Name: "bad", Interval: 5 * time.Second, Tick: tick, Error: "boom", Ignored: true}})

	// Cancelled before Run: everything buffered is drained.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	runs, _ := st.RecentRuns(context.Background(), 0)
	if len(runs) != 2 {
		t.Fatalf("stored %d records, want 2", len(runs))
	}
	if !runs[0].OK || runs[0].Name != "ok" || runs[0].IntervalMS != 1000 || runs[0].DurationMS != 5 {
		t.Fatalf("unexpected success record: %+v", runs[0])
	}
	if runs[1].OK || !runs[1].Ignored || runs[1].Error != "boom" || !runs[1].Tick.Equal(tick) {
		t.Fatalf("unexpected failure record: %+v", runs[1])
	}
	if rec.Written() != 2 {
		t.Fatalf("Written = %d, want 2", rec.Written())
	}
}

func TestRecorderCountsStoreFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	rec := NewRecorder(bus, &memStore{fail: true}, 4, logx.Nop())
	bus.Publish(eventbus.Event{Type: eventbus.TypeEntryFinished, Data: sched.RunEvent{Name: "x"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = rec.Run(ctx)

	if rec.Failed() != 1 || rec.Written() != 0 {
		t.Fatalf("Failed=%d Written=%d, want 1 and 0", rec.Failed(), rec.Written())
	}
}

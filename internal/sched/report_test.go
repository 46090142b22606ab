package sched

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	logx "tickd/pkg/logx"
)

func failedEntry(t *testing.T, name string) *Entry {
	t.Helper()
	e := &Entry{ID: name + "-id", Name: name, Interval: time.Second, Task: Func(func() {})}
	e.record(epoch, errors.New("disk full"))
	return e
}

func TestErrorReporterThrottlesPerEntry(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := NewErrorReporter(logx.New(&buf, "debug"), time.Hour)

	a := failedEntry(t, "a")
	b := failedEntry(t, "b")
	r.Handle(a)
	r.Handle(a)
	r.Handle(a)
	r.Handle(b)

	if got := strings.Count(buf.String(), `"message":"entry failed"`); got != 2 {
		t.Fatalf("logged %d failures, want 2 (one per entry): %s", got, buf.String())
	}
	if !strings.Contains(buf.String(), `"err":"disk full"`) {
		t.Fatalf("missing error in output: %s", buf.String())
	}
	if got := r.Suppressed(a.ID); got != 2 {
		t.Fatalf("Suppressed(a) = %d, want 2", got)
	}
	if got := r.Suppressed(b.ID); got != 0 {
		t.Fatalf("Suppressed(b) = %d, want 0", got)
	}
}

func TestErrorReporterNilEntry(t *testing.T) {
	t.Parallel()
	NewErrorReporter(logx.Logger{}, 0).Handle(nil)
}

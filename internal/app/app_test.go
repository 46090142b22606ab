package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickd/internal/storage"
	"tickd/internal/tasks"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "tickd.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestAppRecordsRuns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"logging": {"level": "error", "console": false},
		"scheduler": {
			"enabled": true,
			"tasks": [{"name": "heartbeat", "kind": "log", "interval": "1s"}]
		},
		"storage": {"driver": "file", "path": %q}
	}`, filepath.Join(dir, "history")))

	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Scheduler().Len() != 1 {
		t.Fatalf("Len = %d, want 1", a.Scheduler().Len())
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The first tick runs immediately; the recorder writes shortly after.
	deadline := time.Now().Add(3 * time.Second)
	var runs []storage.RunRecord
	for len(runs) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no run recorded")
		}
		time.Sleep(20 * time.Millisecond)
		runs, err = a.RecentRuns(context.Background(), 10)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
	}
	if runs[0].Name != "heartbeat" || !runs[0].OK {
		t.Fatalf("unexpected record: %+v", runs[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Scheduler().Running() {
		t.Fatalf("scheduler still running after Stop")
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestNewRejectsPruneWithoutStorage(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), `{
		"logging": {"console": false},
		"scheduler": {
			"enabled": true,
			"tasks": [{"name": "prune", "kind": "prune", "interval": "1h", "retention": "24h"}]
		}
	}`)
	_, err := New(path)
	if !errors.Is(err, tasks.ErrStorageDisabled) {
		t.Fatalf("err = %v, want %v", err, tasks.ErrStorageDisabled)
	}
}

func TestDisabledSchedulerDoesNotRun(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), `{
		"logging": {"console": false},
		"scheduler": {
			"enabled": false,
			"tasks": [{"name": "heartbeat", "kind": "log", "interval": "1s"}]
		}
	}`)
	a, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("second Start should fail")
	}
	time.Sleep(50 * time.Millisecond)
	if a.Scheduler().Running() {
		t.Fatalf("disabled scheduler started")
	}
	if _, err := a.RecentRuns(context.Background(), 1); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("RecentRuns err = %v, want ErrDisabled", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

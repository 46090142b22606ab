package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	logx "tickd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.runs.jsonl (append-only JSON Lines)
//
// PruneRuns rewrites the journal through a temp file + rename.
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	path     string
	runsFile *os.File
	closed   bool

	rename func(oldpath, newpath string) error
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	runsPath := prefix + ".runs.jsonl"
	f, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", runsPath))
	return &fileStore{log: log, path: runsPath, runsFile: f, rename: os.Rename}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return err
}

// appendHandle returns the journal handle, reopening it if an earlier prune
// lost it. Must be called with mu held.
func (s *fileStore) appendHandle() (*os.File, error) {
	if s.closed {
		return nil, errors.New("runs file closed")
	}
	if s.runsFile == nil {
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, err
		}
		s.runsFile = f
	}
	return s.runsFile, nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.appendHandle()
	if err != nil {
		return err
	}
	if r.Tick.IsZero() {
		r.Tick = time.Now().UTC()
	}
	return json.NewEncoder(f).Encode(r)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readRuns(s.path)
	if err != nil {
		return nil, err
	}
	// Newest tick first; equal ticks keep reverse append order, matching
	// the sqlite driver's "tick DESC, id DESC".
	slices.Reverse(all)
	slices.SortStableFunc(all, func(a, b RunRecord) int { return b.Tick.Compare(a.Tick) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *fileStore) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("runs file closed")
	}
	all, err := readRuns(s.path)
	if err != nil {
		return 0, err
	}
	keep := all[:0]
	for _, r := range all {
		if r.Tick.Before(before) {
			continue
		}
		keep = append(keep, r)
	}
	removed := len(all) - len(keep)
	if removed == 0 {
		return 0, nil
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return 0, err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	// Swap the journal. The append handle is closed first for platforms that
	// refuse to rename over an open file, and reopened whatever the outcome.
	if s.runsFile != nil {
		_ = s.runsFile.Close()
		s.runsFile = nil
	}
	renameErr := s.rename(tmp, s.path)
	if renameErr != nil {
		_ = os.Remove(tmp)
	}
	if _, err := s.appendHandle(); err != nil {
		return 0, errors.Join(renameErr, err)
	}
	if renameErr != nil {
		s.log.Warn("run history prune failed", logx.Err(renameErr))
		return 0, renameErr
	}
	return removed, nil
}

func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

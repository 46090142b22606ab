package sched

import "time"

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running          bool
	Started          time.Time
	Ticks            uint64
	ShortestInterval time.Duration
	Entries          []EntryInfo
}

func (s *Scheduler) Snapshot() Snapshot {
	s.stateMu.Lock()
	running := s.running
	started := s.started
	ticks := s.ticks
	s.stateMu.Unlock()

	entries := s.Entries()
	items := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.info())
	}

	return Snapshot{
		Running:          running,
		Started:          started,
		Ticks:            ticks,
		ShortestInterval: s.ShortestInterval(),
		Entries:          items,
	}
}

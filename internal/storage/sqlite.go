package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "tickd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

// runRow mirrors the runs table; ticks are unix milliseconds so range
// queries compare numerically.
type runRow struct {
	EntryID    string  `db:"entry_id"`
	Name       string  `db:"name"`
	TickMS     int64   `db:"tick_ms"`
	IntervalMS int64   `db:"interval_ms"`
	DurationMS int64   `db:"duration_ms"`
	OK         int     `db:"ok"`
	Ignored    int     `db:"ignored"`
	Err        *string `db:"err"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite connect: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Tick.IsZero() {
		r.Tick = time.Now().UTC()
	}
	row := runRow{
		EntryID:    r.EntryID,
		Name:       r.Name,
		TickMS:     r.Tick.UnixMilli(),
		IntervalMS: r.IntervalMS,
		DurationMS: r.DurationMS,
		OK:         boolInt(r.OK),
		Ignored:    boolInt(r.Ignored),
		Err:        nullStr(r.Error),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO runs(entry_id, name, tick_ms, interval_ms, duration_ms, ok, ignored, err)
		 VALUES(:entry_id, :name, :tick_ms, :interval_ms, :duration_ms, :ok, :ignored, :err)`,
		row,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT entry_id, name, tick_ms, interval_ms, duration_ms, ok, ignored, err
		 FROM runs ORDER BY tick_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		rec := RunRecord{
			EntryID:    r.EntryID,
			Name:       r.Name,
			Tick:       time.UnixMilli(r.TickMS).UTC(),
			IntervalMS: r.IntervalMS,
			DurationMS: r.DurationMS,
			OK:         r.OK != 0,
			Ignored:    r.Ignored != 0,
		}
		if r.Err != nil {
			rec.Error = *r.Err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *sqliteStore) PruneRuns(ctx context.Context, before time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE tick_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// Package app wires the daemon together: config, logging, run-history
// storage, the scheduler and its background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tickd/internal/config"
	"tickd/internal/eventbus"
	"tickd/internal/history"
	"tickd/internal/runtime/supervisor"
	"tickd/internal/sched"
	"tickd/internal/storage"
	"tickd/internal/tasks"
	logx "tickd/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	bus      eventbus.Bus
	store    storage.Store
	sched    *sched.Scheduler
	reporter *sched.ErrorReporter
	recorder *history.Recorder
	enabled  bool

	mu  sync.Mutex
	sup *supervisor.Supervisor
}

// New loads the config at path and builds every component. Nothing runs
// until Start.
func New(path string) (*App, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, root, logErr := logx.NewService(cfg.LogConfig())
	log := root.With(logx.String("comp", "app"))
	if logErr != nil {
		log.Warn("log file unavailable; using console", logx.Err(logErr))
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		enabled: cfg.Scheduler.Enabled,
	}

	sc, err := cfg.StoreConfig()
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if st != nil {
		a.store = st
		a.recorder = history.NewRecorder(a.bus, st, cfg.History.Buffer, root.With(logx.String("comp", "history")))
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.reporter = sched.NewErrorReporter(root.With(logx.String("comp", "sched")), cfg.ReportEvery())
	a.sched = sched.New(root.With(logx.String("comp", "sched")), a.bus, sched.WithErrorHandler(a.reporter.Handle))

	deps := tasks.Deps{Log: root.With(logx.String("comp", "task")), Store: st}
	for _, tc := range cfg.Scheduler.Tasks {
		e, err := tasks.Build(tc, deps)
		if err == nil {
			err = a.sched.Add(e)
		}
		if err != nil {
			a.closeResources()
			return nil, err
		}
	}
	return a, nil
}

// Scheduler exposes the scheduler for callers that register entries in code.
func (a *App) Scheduler() *sched.Scheduler { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// RecentRuns returns stored run records, newest first.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentRuns(ctx, limit)
}

// Done is closed when the background loops have been cancelled.
func (a *App) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error of a background loop.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	a.sup = sup
	a.mu.Unlock()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.recorder != nil {
		sup.Go("history.recorder", a.recorder.Run)
	}

	switch {
	case !a.enabled:
		a.log.Info("scheduler disabled via config")
	case a.sched.Len() == 0:
		a.log.Warn("scheduler enabled but no tasks configured")
	default:
		sup.Go("scheduler", func(c context.Context) error {
			a.sched.Start(c)
			<-a.sched.Done()
			return nil
		})
	}

	sub := a.cfgm.Subscribe(4)
	sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	sup.GoRestart("config.watch", time.Second, 30*time.Second, a.cfgm.Watch)

	a.log.Info("app started",
		logx.Int("entries", a.sched.Len()),
		logx.Duration("shortest_interval", a.sched.ShortestInterval()),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest of a burst.
			for drained := false; !drained; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					next = newer
				default:
					drained = true
				}
			}
			a.applyConfig(applied, next)
			applied = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if err := a.logs.Apply(next.LogConfig()); err != nil {
		a.log.Warn("log file unavailable; using console", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if config.RequiresRestart(sections) {
		a.log.Warn("config changes outside logging take effect after restart",
			logx.String("changed", strings.Join(sections, ",")))
	}
}

// Stop lets the current tick finish, then cancels the background loops and
// closes storage and logging. Each step is bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.mu.Unlock()
	if sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping")

	var errs []error
	a.sched.Stop()
	errs = append(errs, a.step(ctx, "scheduler", 5*time.Second, a.sched.Wait))
	errs = append(errs, a.step(ctx, "supervisor", 3*time.Second, sup.Stop))
	a.log.Info("stopped")
	a.closeResources()

	err := errors.Join(errs...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// step runs fn with an upper bound that never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		return fmt.Errorf("stop %s: %w", name, context.DeadlineExceeded)
	}
	c, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
	err := fn(c)
	took := time.Since(start)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("stop step error", logx.String("name", name), logx.Duration("took", took), logx.Err(err))
		return fmt.Errorf("stop %s: %w", name, err)
	}
	a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
	return nil
}

func (a *App) closeResources() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
		a.store = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

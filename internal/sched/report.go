package sched

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "tickd/pkg/logx"
)

const defaultReportEvery = 30 * time.Second

// ErrorReporter is an ErrorHandler that logs failed entries, at most once per
// `every` for each entry. Suppressed failures are counted and reported with
// the next message that gets through.
type ErrorReporter struct {
	log   logx.Logger
	every time.Duration

	mu         sync.Mutex
	limiters   map[string]*rate.Limiter
	suppressed map[string]int
}

func NewErrorReporter(log logx.Logger, every time.Duration) *ErrorReporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	if every <= 0 {
		every = defaultReportEvery
	}
	return &ErrorReporter{
		log:        log,
		every:      every,
		limiters:   map[string]*rate.Limiter{},
		suppressed: map[string]int{},
	}
}

// Handle matches ErrorHandler.
func (r *ErrorReporter) Handle(e *Entry) {
	if e == nil {
		return
	}
	key := e.ID

	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(r.every), 1)
		r.limiters[key] = lim
	}
	if !lim.Allow() {
		r.suppressed[key]++
		r.mu.Unlock()
		return
	}
	skipped := r.suppressed[key]
	delete(r.suppressed, key)
	r.mu.Unlock()

	args := []logx.Field{
		logx.String("entry", e.Name),
		logx.String("id", e.ID),
		logx.Duration("interval", e.Interval),
		logx.Time("last_run", e.LastRun()),
		logx.Err(e.Err()),
	}
	if skipped > 0 {
		args = append(args, logx.Int("suppressed", skipped))
	}
	r.log.Warn("entry failed", args...)
}

// Suppressed returns how many failures of the entry were not logged yet.
func (r *ErrorReporter) Suppressed(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suppressed[id]
}

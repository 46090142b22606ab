package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"tickd/internal/sched"
)

// ErrPruneWithoutStorage rejects prune tasks when run history is not stored.
var ErrPruneWithoutStorage = errors.New("prune task requires storage")

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names instead of Go field names.
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

// Validate runs tag validation followed by semantic checks that tags
// cannot express (interval syntax, durations, unique task names).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", trimNamespace(fe.Namespace()), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	if _, err := ParseDurationField("scheduler.report_every", cfg.Scheduler.ReportEvery); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if !isDisabledDriver(cfg.Storage.Driver) && strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for driver "+cfg.Storage.Driver))
		}
	}

	storageOn := cfg.Storage != nil && !isDisabledDriver(cfg.Storage.Driver)
	seen := make(map[string]int, len(cfg.Scheduler.Tasks))
	for i, t := range cfg.Scheduler.Tasks {
		path := fmt.Sprintf("scheduler.tasks[%d]", i)
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q (also tasks[%d])", path, t.Name, j))
		}
		seen[key] = i

		if _, err := sched.ParseInterval(t.Interval); err != nil {
			errs = append(errs, fmt.Errorf("%s.interval: %w", path, err))
		}
		if _, err := ParseDurationField(path+".timeout", t.Timeout); err != nil {
			errs = append(errs, err)
		}
		if t.Kind == KindPrune {
			if !storageOn {
				errs = append(errs, fmt.Errorf("%s: %w", path, ErrPruneWithoutStorage))
			}
			d, err := ParseDurationField(path+".retention", t.Retention)
			if err != nil {
				errs = append(errs, err)
			} else if d <= 0 {
				errs = append(errs, fmt.Errorf("%s.retention: must be > 0", path))
			}
		}
	}
	return errors.Join(errs...)
}

func isDisabledDriver(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "none":
		return true
	}
	return false
}

func trimNamespace(ns string) string {
	// "Config.scheduler.tasks[0].kind" -> "scheduler.tasks[0].kind"
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

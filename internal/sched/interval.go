package sched

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseInterval parses an entry interval.
//
// Supported forms:
//   - Go duration: "30s", "55m", "2h30m"
//   - HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Prefixed: "interval:55m", "every:01:30"
//   - Descriptor: "@every 5m"
//
// Cron expressions are not supported; entries run on a fixed interval only.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "@every"):
		s = strings.TrimSpace(s[len("@every"):])
	case strings.HasPrefix(low, "interval:"):
		s = strings.TrimSpace(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		s = strings.TrimSpace(s[len("every:"):])
	case strings.HasPrefix(low, "@") || strings.ContainsAny(s, " \t\n\r"):
		return 0, fmt.Errorf("invalid interval %q: cron expressions are not supported", raw)
	}
	if s == "" {
		return 0, fmt.Errorf("interval required")
	}

	if reHHMM.MatchString(s) {
		return parseHHMMDuration(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM like '02:30' or a duration like '55m')", raw)
	}
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid hours in %q", v)
	}
	mm, err := strconv.Atoi(m[2])
	if err != nil || mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, ErrInvalidInterval
	}
	return d, nil
}

// NormalizeInterval truncates d to whole seconds with a floor of one second.
func NormalizeInterval(d time.Duration) time.Duration {
	return cron.Every(d).Delay
}

// previewNextRuns renders the first n run times of a fresh entry for debug logs.
func previewNextRuns(every time.Duration, from time.Time, n int) string {
	if n <= 0 || every <= 0 {
		return ""
	}
	sched := cron.Every(every)
	t := from
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			t = sched.Next(t)
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRelative parses the relative-time grammar of spec section 4.7:
// "--begin '3 days ago'", "--end '1 month ago rounded 1 day'",
// "starting in 30 seconds". Callers persist the original string
// (Job.Begin/Job.End keep the raw text); this function only computes
// one instant relative to the given reference time.
func ParseRelative(expr string, ref time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("scheduler: empty relative time expression")
	}
	lower := strings.ToLower(expr)

	if lower == "now" {
		return ref, nil
	}

	var rounded time.Duration
	if idx := strings.Index(lower, "rounded"); idx >= 0 {
		d, err := parseDuration(strings.TrimSpace(lower[idx+len("rounded"):]))
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: parse rounded clause: %w", err)
		}
		rounded = d
		lower = strings.TrimSpace(lower[:idx])
	}

	var t time.Time
	switch {
	case strings.HasPrefix(lower, "in "):
		d, err := parseDuration(strings.TrimPrefix(lower, "in "))
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: parse %q: %w", expr, err)
		}
		t = ref.Add(d)

	case strings.HasSuffix(lower, " ago"):
		d, err := parseAgoDuration(strings.TrimSuffix(lower, " ago"))
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: parse %q: %w", expr, err)
		}
		t = ref.Add(-d)

	default:
		parsed, err := time.Parse(time.RFC3339, expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: cannot parse %q as a relative or absolute time: %w", expr, err)
		}
		t = parsed
	}

	if rounded > 0 {
		t = t.Truncate(rounded)
	}
	return t, nil
}

// parseAgoDuration parses "<n> <unit>" where unit additionally allows
// months/years (only valid with "ago", per spec section 4.7).
func parseAgoDuration(s string) (time.Duration, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("expected '<n> <unit>', got %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", fields[0], err)
	}
	unit := strings.TrimSuffix(fields[1], "s")
	switch unit {
	case "month":
		return time.Duration(n) * 30 * 24 * time.Hour, nil
	case "year":
		return time.Duration(n) * 365 * 24 * time.Hour, nil
	default:
		d, err := unitDuration(fields[1])
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * d, nil
	}
}

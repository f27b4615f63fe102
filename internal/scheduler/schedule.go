// Package scheduler implements spec section 4.7: schedule expressions,
// the Job model and its supervisor, and rotating per-job logs. A
// schedule expression compiles down to one or more robfig/cron
// schedules; the supervisor is the goroutine-managed worker pattern
// seen in nakulbhandare-field_fuze_backend's infrastructure Worker
// (CronJob, sync.Once-guarded start/stop, a StopChan and a cancelable
// context), generalized to a registry of many jobs instead of one.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// calendarWords maps schedule-expression calendar words to their cron
// equivalent, per spec section 4.7's "calendar words (daily, hourly,
// mon-fri, ...)".
var calendarWords = map[string]string{
	"daily":     "@daily",
	"hourly":    "@hourly",
	"weekly":    "@weekly",
	"monthly":   "@monthly",
	"yearly":    "@yearly",
	"annually":  "@yearly",
	"mon-fri":   "0 0 * * 1-5",
	"weekdays":  "0 0 * * 1-5",
	"weekends":  "0 0 * * 0,6",
	"midnight":  "@midnight",
}

// Schedule is a compiled schedule expression: one or more clauses
// joined by & (all must fire in the same minute to count) or | (any
// firing counts), with optional starting/rounded modifiers.
type Schedule struct {
	Raw       string
	clauses   []cron.Schedule
	all       bool // true for "&", false for "|" (also true for a single clause)
	Starting  *time.Time
	Rounded   time.Duration
}

// Parse compiles a schedule expression (spec section 4.7). The
// original string is always retained on Raw so a job definition can
// re-display or re-parse it verbatim.
func Parse(expr string) (*Schedule, error) {
	raw := expr
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("scheduler: empty schedule expression")
	}

	sched := &Schedule{Raw: raw}

	if idx := findKeyword(expr, "rounded"); idx >= 0 {
		d, err := parseDuration(strings.TrimSpace(expr[idx+len("rounded"):]))
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse rounded clause: %w", err)
		}
		sched.Rounded = d
		expr = strings.TrimSpace(expr[:idx])
	}

	if idx := findKeyword(expr, "starting"); idx >= 0 {
		startExpr := strings.TrimSpace(expr[idx+len("starting"):])
		t, err := ParseRelative(startExpr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("scheduler: parse starting clause: %w", err)
		}
		sched.Starting = &t
		expr = strings.TrimSpace(expr[:idx])
	}

	sep := "|"
	sched.all = false
	if strings.Contains(expr, "&") {
		sep = "&"
		sched.all = true
	}

	for _, part := range strings.Split(expr, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cronExpr, err := clauseToCron(part)
		if err != nil {
			return nil, fmt.Errorf("scheduler: clause %q: %w", part, err)
		}
		s, err := cronParser.Parse(cronExpr)
		if err != nil {
			return nil, fmt.Errorf("scheduler: invalid cron expression %q derived from %q: %w", cronExpr, part, err)
		}
		sched.clauses = append(sched.clauses, s)
	}
	if len(sched.clauses) == 0 {
		return nil, fmt.Errorf("scheduler: schedule expression %q has no clauses", raw)
	}
	if len(sched.clauses) == 1 {
		sched.all = true
	}
	return sched, nil
}

// clauseToCron reduces one clause to a standard 5-field cron
// expression (or a cron.Descriptor like "@every 10s"), per spec
// section 4.7: "layered over robfig/cron's fields where a clause
// reduces to a standard cron expression."
func clauseToCron(clause string) (string, error) {
	lower := strings.ToLower(clause)

	if cronExpr, ok := calendarWords[lower]; ok {
		return cronExpr, nil
	}

	if strings.HasPrefix(lower, "every ") {
		d, err := parseDuration(strings.TrimPrefix(lower, "every "))
		if err != nil {
			return "", fmt.Errorf("every clause: %w", err)
		}
		return "@every " + d.String(), nil
	}

	if strings.HasPrefix(lower, "starting in ") {
		return "", fmt.Errorf("relative window clauses are not schedulable on their own; combine with a calendar word")
	}

	// Fall through: assume the clause is already a raw cron expression
	// ("cron-like" per spec).
	return clause, nil
}

// maxAndSearch bounds the AND-clause search loop in Next so a
// combination of clauses that never coincide (e.g. two disjoint minute
// offsets) fails fast instead of hanging.
const maxAndSearch = 100_000

// Next reports the first firing time strictly after after, honoring
// Starting (no firing before it) and Rounded (each firing snapped down
// to the nearest multiple of Rounded). OR-joined clauses fire at the
// earliest candidate any clause produces; AND-joined clauses fire only
// at an instant every clause would independently fire at.
func (s *Schedule) Next(after time.Time) time.Time {
	if s.Starting != nil && after.Before(*s.Starting) {
		after = s.Starting.Add(-time.Second)
	}

	var next time.Time
	if !s.all {
		for i, c := range s.clauses {
			cand := c.Next(after)
			if i == 0 || cand.Before(next) {
				next = cand
			}
		}
	} else {
		next = s.clauses[0].Next(after)
		for i := 0; i < maxAndSearch; i++ {
			matchesAll := true
			for _, c := range s.clauses[1:] {
				if !firesAt(c, next) {
					matchesAll = false
					break
				}
			}
			if matchesAll {
				break
			}
			next = s.clauses[0].Next(next)
		}
	}

	if s.Rounded > 0 {
		rounded := next.Truncate(s.Rounded)
		if !rounded.After(after) {
			rounded = rounded.Add(s.Rounded)
		}
		next = rounded
	}
	return next
}

// firesAt reports whether cron schedule c independently fires at t,
// exploiting cron's minute granularity: t is a firing instant iff
// asking "what's next after one minute before t" lands back on t.
func firesAt(c cron.Schedule, t time.Time) bool {
	return c.Next(t.Add(-time.Minute)).Equal(t)
}

// NextN returns the next n firing times after after, for "show
// schedule"'s visual confirmation.
func (s *Schedule) NextN(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	cursor := after
	for i := 0; i < n; i++ {
		cursor = s.Next(cursor)
		out = append(out, cursor)
	}
	return out
}

func findKeyword(expr, word string) int {
	lower := strings.ToLower(expr)
	idx := strings.Index(lower, " "+word+" ")
	if idx < 0 {
		return -1
	}
	return idx + 1
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("expected '<n> <unit>', got %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", fields[0], err)
	}
	unit, err := unitDuration(fields[1])
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}

func unitDuration(unit string) (time.Duration, error) {
	unit = strings.TrimSuffix(strings.ToLower(unit), "s")
	switch unit {
	case "second":
		return time.Second, nil
	case "minute":
		return time.Minute, nil
	case "hour":
		return time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported unit %q", unit)
	}
}

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalSchedule fires a fixed duration after each run. Most jobs in
// the worker use this; only the nightly snapshot wants wall-clock time.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a schedule firing every interval.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the fire time following t.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ─────────────────────────────────────────────────────────────────────────────

// CronExpression fires at wall-clock times given by a standard 5-field
// cron line: minute hour day-of-month month day-of-week. Each field is
// a bitmask of allowed values, so matching a minute is five AND-tests.
//
//	"*/5 * * * *"  every 5 minutes
//	"0 21 * * *"   daily at 21:00
//	"0 0 * * 0"    Sundays at midnight
// Day-of-month and day-of-week follow the Vixie cron rule: when both
// fields are restricted, a day matching either one fires.
type CronExpression struct {
	raw      string
	minutes  uint64 // bits 0-59
	hours    uint64 // bits 0-23
	days     uint64 // bits 1-31
	months   uint64 // bits 1-12
	weekdays uint64 // bits 0-6, 0 is Sunday

	anyDay     bool // day field was "*"
	anyWeekday bool // weekday field was "*"
}

// ParseCronExpression parses a 5-field cron line. Fields accept "*",
// single values, ranges "a-b", lists "a,b,c", and steps "*/n" or "a-b/n".
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	type fieldSpec struct {
		name     string
		min, max int
		dst      *uint64
	}
	ce := &CronExpression{raw: expr}
	specs := []fieldSpec{
		{"minute", 0, 59, &ce.minutes},
		{"hour", 0, 23, &ce.hours},
		{"day", 1, 31, &ce.days},
		{"month", 1, 12, &ce.months},
		{"weekday", 0, 6, &ce.weekdays},
	}

	for i, spec := range specs {
		mask, err := parseCronField(fields[i], spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", spec.name, fields[i], err)
		}
		*spec.dst = mask
	}
	ce.anyDay = fields[2] == "*"
	ce.anyWeekday = fields[4] == "*"
	return ce, nil
}

// parseCronField turns one field into a bitmask of allowed values.
func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		start, end, step := min, max, 1

		if slash := strings.IndexByte(part, '/'); slash >= 0 {
			s, err := strconv.Atoi(part[slash+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("bad step %q", part[slash+1:])
			}
			step = s
			part = part[:slash]
		} else if part != "*" && !strings.Contains(part, "-") {
			// A plain value is just itself.
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			if v < min || v > max {
				return 0, fmt.Errorf("value %d outside [%d,%d]", v, min, max)
			}
			mask |= 1 << uint(v)
			continue
		}

		switch {
		case part == "*":
			// Full range.
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return 0, fmt.Errorf("bad range %q", part)
			}
			start, end = a, b
		default:
			// "n/step" means n to max by step.
			v, err := strconv.Atoi(part)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", part)
			}
			start = v
		}

		for v := start; v <= end; v += step {
			if v >= min && v <= max {
				mask |= 1 << uint(v)
			}
		}
	}
	if mask == 0 {
		return 0, fmt.Errorf("field matches nothing")
	}
	return mask, nil
}

// dayMatches applies the Vixie rule: with both day fields restricted
// the tests combine with OR, otherwise with AND.
func (ce *CronExpression) dayMatches(t time.Time) bool {
	dom := ce.days&(1<<uint(t.Day())) != 0
	dow := ce.weekdays&(1<<uint(t.Weekday())) != 0
	if ce.anyDay || ce.anyWeekday {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching minute after t. Returns the zero time
// if nothing matches within a year, which only an impossible day and
// month combination can cause.
func (ce *CronExpression) Next(t time.Time) time.Time {
	cur := t.Truncate(time.Minute).Add(time.Minute)
	limit := cur.AddDate(1, 0, 1)

	for cur.Before(limit) {
		if ce.months&(1<<uint(cur.Month())) == 0 {
			cur = time.Date(cur.Year(), cur.Month(), 1, 0, 0, 0, 0, cur.Location()).AddDate(0, 1, 0)
			continue
		}
		if !ce.dayMatches(cur) {
			cur = time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, cur.Location()).AddDate(0, 0, 1)
			continue
		}
		if ce.hours&(1<<uint(cur.Hour())) == 0 {
			cur = cur.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if ce.minutes&(1<<uint(cur.Minute())) == 0 {
			cur = cur.Add(time.Minute)
			continue
		}
		return cur
	}
	return time.Time{}
}

func (ce *CronExpression) String() string {
	return ce.raw
}

package recurrence

import (
	"time"

	"github.com/watzon/cadence/internal/dates"
)

// MaxCatchUp bounds how many periods NextOccurrence steps forward when a
// scheduled-anchored series has fallen behind the reference time.
const MaxCatchUp = 1000

// NextOccurrence returns the occurrence following anchor, or false when the series has
// ended as of ref. The anchor's time of day and location carry over to the result.
func NextOccurrence(rule Rule, anchor, ref time.Time) (time.Time, bool) {
	rule = rule.Normalize()

	if HasEnded(rule, ref) {
		return time.Time{}, false
	}

	next, ok := step(rule, anchor)
	if !ok {
		return time.Time{}, false
	}

	if rule.Anchor == AnchorScheduled && next.Before(ref) {
		next = catchUp(rule, next, ref)
	}

	if end, ok := rule.End.(OnDate); ok && dates.DayAfter(next, end.Date) {
		return time.Time{}, false
	}

	return next, true
}

// HasEnded reports whether the series stops producing occurrences as of ref.
func HasEnded(rule Rule, ref time.Time) bool {
	switch e := rule.End.(type) {
	case AfterOccurrences:
		return rule.OccurrencesGenerated >= e.Count
	case OnDate:
		return dates.DayAfter(ref, e.Date)
	default:
		return false
	}
}

// Preview lists up to n upcoming dates, treating each result as the next anchor and
// counting it as generated.
func Preview(rule Rule, anchor, ref time.Time, n int) []time.Time {
	var out []time.Time
	for len(out) < n {
		next, ok := NextOccurrence(rule, anchor, ref)
		if !ok {
			break
		}
		out = append(out, next)
		rule.OccurrencesGenerated++
		anchor = next
	}
	return out
}

// Dates lists the first n dates of a series whose first occurrence falls on first. The
// first occurrence counts toward an occurrence limit.
func Dates(rule Rule, first time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	rule.OccurrencesGenerated = 1
	return append([]time.Time{first}, Preview(rule, first, first, n-1)...)
}

func catchUp(rule Rule, from, ref time.Time) time.Time {
	next := from
	for i := 0; i < MaxCatchUp; i++ {
		var ok bool
		if next, ok = step(rule, next); !ok {
			break
		}
		if !next.Before(ref) {
			return next
		}
	}
	return ref
}

// step computes the raw candidate one period after from.
func step(rule Rule, from time.Time) (time.Time, bool) {
	switch rule.Frequency {
	case Daily:
		return from.AddDate(0, 0, rule.Interval), true
	case Weekly:
		if len(rule.Weekdays) == 0 {
			return from.AddDate(0, 0, 7*rule.Interval), true
		}
		if rule.Interval == 1 {
			if next, ok := laterThisWeek(rule.Weekdays, from); ok {
				return next, true
			}
		}
		return jumpWeeks(rule.Weekdays, from, rule.Interval), true
	case Monthly:
		return nextMonthly(rule, from), true
	case Yearly:
		return nextYearly(rule, from), true
	default:
		return time.Time{}, false
	}
}

// laterThisWeek finds the first constrained weekday strictly after from's weekday in
// the same Sunday-started week. days must be sorted.
func laterThisWeek(days []Weekday, from time.Time) (time.Time, bool) {
	current := WeekdayOf(from)
	for _, d := range days {
		if d > current {
			return from.AddDate(0, 0, int(d-current)), true
		}
	}
	return time.Time{}, false
}

// jumpWeeks moves interval weeks ahead and lands on the earliest constrained weekday
// of that week. days must be sorted.
func jumpWeeks(days []Weekday, from time.Time, interval int) time.Time {
	jumped := from.AddDate(0, 0, 7*interval)
	return jumped.AddDate(0, 0, int(days[0]-WeekdayOf(jumped)))
}

func nextMonthly(rule Rule, from time.Time) time.Time {
	y, m, _ := from.Date()
	y, m = addMonths(y, m, rule.Interval)

	switch p := rule.Monthly.(type) {
	case OrdinalWeekday:
		return ordinalDay(from, y, m, p)
	case DayOfMonth:
		return onDay(from, y, m, p.Day)
	default:
		return onDay(from, y, m, 1)
	}
}

func nextYearly(rule Rule, from time.Time) time.Time {
	y, m, d := from.Date()
	y += rule.Interval
	if rule.MonthOfYear != 0 {
		m = time.Month(rule.MonthOfYear)
	}

	if p, ok := rule.Monthly.(DayOfMonth); ok {
		d = p.Day
	}
	return onDay(from, y, m, d)
}

// ordinalDay picks the p.Week-th p.Weekday of the month. When the month has fewer
// than p.Week of that weekday, the last one is used.
func ordinalDay(clock time.Time, y int, m time.Month, p OrdinalWeekday) time.Time {
	n := daysIn(y, m)

	if p.Week == LastWeek {
		for d := n; d >= 1; d-- {
			if t := onDay(clock, y, m, d); WeekdayOf(t) == p.Weekday {
				return t
			}
		}
	}

	var last time.Time
	seen := 0
	for d := 1; d <= n; d++ {
		t := onDay(clock, y, m, d)
		if WeekdayOf(t) != p.Weekday {
			continue
		}
		seen++
		last = t
		if seen == p.Week {
			return t
		}
	}
	return last
}

// onDay builds a date in y/m with the day clamped to the month's length and the time
// of day and location taken from clock.
func onDay(clock time.Time, y int, m time.Month, day int) time.Time {
	if n := daysIn(y, m); day > n {
		day = n
	}
	if day < 1 {
		day = 1
	}
	return time.Date(y, m, day, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	total := int(m) - 1 + n
	y += total / 12
	total %= 12
	if total < 0 {
		total += 12
		y--
	}
	return y, time.Month(total + 1)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

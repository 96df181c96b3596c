// Package recurrence describes repeat patterns for recurring tasks and computes their
// future occurrence dates.
//
// Everything in this package is pure: callers pass the anchor date and the reference
// time explicitly, and no function reads the system clock.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Frequency is the base period of a rule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Weekday numbers days 1=Sunday through 7=Saturday.
type Weekday int

const (
	Sunday Weekday = iota + 1
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayAbbrev = [...]string{"", "Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Valid reports whether d is within 1..7.
func (d Weekday) Valid() bool {
	return d >= Sunday && d <= Saturday
}

// String returns the three-letter abbreviation.
func (d Weekday) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayAbbrev[d]
}

// WeekdayOf converts a time.Weekday (Sunday=0) to a Weekday (Sunday=1).
func WeekdayOf(t time.Time) Weekday {
	return Weekday(t.Weekday()) + 1
}

// Anchor selects which date seeds the next computation.
type Anchor string

const (
	AnchorScheduled  Anchor = "scheduledDueDate"
	AnchorCompletion Anchor = "completionDate"
)

// MonthlyPattern selects a day within a month. It is either DayOfMonth or
// OrdinalWeekday.
type MonthlyPattern interface {
	monthlyPattern()
}

// DayOfMonth targets a fixed day, clamped to the month's length. Yearly rules also
// read their target day from it. A nil MonthlyPattern on a monthly rule means day 1.
type DayOfMonth struct {
	Day int
}

// OrdinalWeekday targets the Week-th Weekday of the month; Week -1 means the last one.
type OrdinalWeekday struct {
	Week    int
	Weekday Weekday
}

func (DayOfMonth) monthlyPattern()     {}
func (OrdinalWeekday) monthlyPattern() {}

// LastWeek is the OrdinalWeekday.Week value selecting the last occurrence.
const LastWeek = -1

// EndCondition decides when a series stops producing occurrences. It is one of Never,
// AfterOccurrences or OnDate.
type EndCondition interface {
	endCondition()
}

// Never keeps the series going indefinitely.
type Never struct{}

// AfterOccurrences ends the series once Count occurrences have been generated.
type AfterOccurrences struct {
	Count int
}

// OnDate ends the series after the given calendar day.
type OnDate struct {
	Date time.Time
}

func (Never) endCondition()            {}
func (AfterOccurrences) endCondition() {}
func (OnDate) endCondition()           {}

// Rule is a repeat pattern plus the counter of occurrences generated so far.
type Rule struct {
	Frequency            Frequency
	Interval             int
	Weekdays             []Weekday
	Monthly              MonthlyPattern
	MonthOfYear          int
	Anchor               Anchor
	End                  EndCondition
	OccurrencesGenerated int
}

var (
	ErrMissingFrequency = errors.New("frequency is required")
	ErrInvalidRule      = errors.New("invalid recurrence rule")
)

// Normalize fills defaults for unset fields and returns the result. Weekdays are
// sorted and de-duplicated.
func (r Rule) Normalize() Rule {
	if r.Interval < 1 {
		r.Interval = 1
	}
	if r.Anchor != AnchorCompletion {
		r.Anchor = AnchorScheduled
	}
	switch e := r.End.(type) {
	case nil:
		r.End = Never{}
	case OnDate:
		r.End = EndDate(e.Date)
	}
	r.Weekdays = sortedWeekdays(r.Weekdays)
	return r
}

// Validate checks the rule strictly. Decoding is lenient and falls back to defaults;
// Validate is for rules arriving from callers.
func (r Rule) Validate() error {
	if r.Frequency == "" {
		return ErrMissingFrequency
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}
	for _, d := range r.Weekdays {
		if !d.Valid() {
			return fmt.Errorf("%w: weekday %d out of range 1-7", ErrInvalidRule, int(d))
		}
	}
	switch p := r.Monthly.(type) {
	case nil:
	case DayOfMonth:
		if p.Day < 1 || p.Day > 31 {
			return fmt.Errorf("%w: day of month %d out of range 1-31", ErrInvalidRule, p.Day)
		}
	case OrdinalWeekday:
		if r.Frequency == Yearly {
			return fmt.Errorf("%w: yearly rules take a day of month, not an ordinal weekday", ErrInvalidRule)
		}
		if p.Week != LastWeek && (p.Week < 1 || p.Week > 5) {
			return fmt.Errorf("%w: ordinal week %d must be 1-5 or -1", ErrInvalidRule, p.Week)
		}
		if !p.Weekday.Valid() {
			return fmt.Errorf("%w: ordinal weekday %d out of range 1-7", ErrInvalidRule, int(p.Weekday))
		}
	}
	if r.MonthOfYear < 0 || r.MonthOfYear > 12 {
		return fmt.Errorf("%w: month of year %d out of range 1-12", ErrInvalidRule, r.MonthOfYear)
	}
	if r.Anchor != "" && r.Anchor != AnchorScheduled && r.Anchor != AnchorCompletion {
		return fmt.Errorf("%w: unknown anchor %q", ErrInvalidRule, r.Anchor)
	}
	switch e := r.End.(type) {
	case AfterOccurrences:
		if e.Count < 1 {
			return fmt.Errorf("%w: occurrence count must be at least 1", ErrInvalidRule)
		}
	case OnDate:
		if e.Date.IsZero() {
			return fmt.Errorf("%w: end date is required", ErrInvalidRule)
		}
	}
	return nil
}

func sortedWeekdays(days []Weekday) []Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[Weekday]bool, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

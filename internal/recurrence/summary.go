package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/watzon/cadence/internal/dates"
)

// Summary renders a rule as a short English phrase such as "Every Mon, Wed, Fri" or
// "Every month on the last Fri after completion".
func Summary(rule Rule) string {
	rule = rule.Normalize()

	var sb strings.Builder
	sb.WriteString(pattern(rule))

	if rule.Anchor == AnchorCompletion {
		sb.WriteString(" after completion")
	}

	switch e := rule.End.(type) {
	case AfterOccurrences:
		if e.Count == 1 {
			sb.WriteString(", once")
		} else {
			fmt.Fprintf(&sb, ", %d times", e.Count)
		}
	case OnDate:
		sb.WriteString(", until ")
		sb.WriteString(e.Date.Format(dates.DisplayLayout))
	}

	return sb.String()
}

func pattern(rule Rule) string {
	switch rule.Frequency {
	case Daily:
		return every(rule.Interval, "day", "days")

	case Weekly:
		if len(rule.Weekdays) == 0 {
			return every(rule.Interval, "week", "weeks")
		}
		names := make([]string, len(rule.Weekdays))
		for i, d := range rule.Weekdays {
			names[i] = d.String()
		}
		if rule.Interval == 1 {
			return "Every " + strings.Join(names, ", ")
		}
		return every(rule.Interval, "week", "weeks") + " on " + strings.Join(names, ", ")

	case Monthly:
		base := every(rule.Interval, "month", "months")
		if p, ok := rule.Monthly.(OrdinalWeekday); ok {
			return base + " on the " + ordinalPhrase(p)
		}
		day := 1
		if p, ok := rule.Monthly.(DayOfMonth); ok {
			day = p.Day
		}
		return base + " on the " + Ordinal(day)

	case Yearly:
		base := every(rule.Interval, "year", "years")
		month := ""
		if rule.MonthOfYear != 0 {
			month = time.Month(rule.MonthOfYear).String()
		}
		if p, ok := rule.Monthly.(DayOfMonth); ok {
			if month == "" {
				return base + " on the " + Ordinal(p.Day)
			}
			return fmt.Sprintf("%s on %s %d", base, month[:3], p.Day)
		}
		if month != "" {
			return base + " in " + month
		}
		return base
	}

	return string(rule.Frequency)
}

func every(n int, one, many string) string {
	if n == 1 {
		return "Every " + one
	}
	return fmt.Sprintf("Every %d %s", n, many)
}

func ordinalPhrase(p OrdinalWeekday) string {
	if p.Week == LastWeek {
		return "last " + p.Weekday.String()
	}
	return Ordinal(p.Week) + " " + p.Weekday.String()
}

// Ordinal formats n with its English suffix: 1st, 2nd, 3rd, 4th, 11th, 12th, 13th,
// 21st.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

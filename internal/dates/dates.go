// Package dates parses and formats the calendar dates used for due dates.
//
// Every parsed date is normalized to noon on its calendar day. Noon keeps a date on the
// same day when it is shifted by a daylight-saving transition or rendered in a nearby
// timezone.
package dates

import (
	"strings"
	"time"
)

// DisplayLayout is the layout used by FormatDate.
const DisplayLayout = "Jan 2, 2006"

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses a relative ("today", "tomorrow", "yesterday") or ISO-8601 date
// expression relative to now. Results are in now's location at noon.
func ParseDate(input string, now time.Time) (time.Time, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return time.Time{}, false
	}

	switch strings.ToLower(input) {
	case "today":
		return Noon(now), true
	case "tomorrow":
		return Noon(now).AddDate(0, 0, 1), true
	case "yesterday":
		return Noon(now).AddDate(0, 0, -1), true
	}

	loc := now.Location()
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, input, loc)
		if err != nil {
			continue
		}
		return Noon(t.In(loc)), true
	}

	return time.Time{}, false
}

// Noon returns 12:00 on t's calendar day in t's location.
func Noon(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, t.Location())
}

// FormatDate renders t as "Jan 2, 2006". Nil and zero times render as "".
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(DisplayLayout)
}

// DayAfter reports whether a's calendar day is strictly after b's. Each time is read
// in its own location, so a stored end date keeps its calendar day.
func DayAfter(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}

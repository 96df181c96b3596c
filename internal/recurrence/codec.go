package recurrence

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

const endDateLayout = "2006-01-02"

// wireRule is the stored shape of a rule. Unknown or out-of-range values are replaced
// by defaults when decoding, so rules written by older clients still load.
type wireRule struct {
	Frequency            string   `json:"frequency" yaml:"frequency"`
	Interval             int      `json:"interval" yaml:"interval"`
	Weekdays             []int    `json:"weekdays,omitempty" yaml:"weekdays"`
	MonthlyMode          string   `json:"monthlyMode,omitempty" yaml:"monthlyMode"`
	DayOfMonth           int      `json:"dayOfMonth,omitempty" yaml:"dayOfMonth"`
	OrdinalWeek          int      `json:"ordinalWeek,omitempty" yaml:"ordinalWeek"`
	OrdinalWeekday       int      `json:"ordinalWeekday,omitempty" yaml:"ordinalWeekday"`
	MonthOfYear          int      `json:"monthOfYear,omitempty" yaml:"monthOfYear"`
	Anchor               string   `json:"anchor" yaml:"anchor"`
	EndCondition         *wireEnd `json:"endCondition" yaml:"endCondition"`
	OccurrencesGenerated int      `json:"occurrencesGenerated" yaml:"occurrencesGenerated"`
}

type wireEnd struct {
	Type  string `json:"type" yaml:"type"`
	Count int    `json:"count,omitempty" yaml:"count"`
	Date  string `json:"date,omitempty" yaml:"date"`
}

const (
	modeDayOfMonth     = "dayOfMonth"
	modeOrdinalWeekday = "ordinalWeekday"

	endNever            = "never"
	endAfterOccurrences = "afterOccurrences"
	endOnDate           = "onDate"
)

// MarshalJSON encodes the normalized rule.
func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(r.Normalize()))
}

// UnmarshalJSON decodes a stored rule, applying defaults to invalid fields. Only a
// missing or unknown frequency is an error.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decoding rule: %w", err)
	}
	rule, err := w.toRule()
	if err != nil {
		return err
	}
	*r = rule
	return nil
}

// Encode serializes a rule for storage.
func Encode(r Rule) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding rule: %w", err)
	}
	return string(data), nil
}

// Decode parses a stored rule.
func Decode(data string) (Rule, error) {
	var r Rule
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// ParseYAML reads a rule written with the same keys as the stored JSON form.
func ParseYAML(data []byte) (Rule, error) {
	var w wireRule
	if err := yaml.Unmarshal(data, &w); err != nil {
		return Rule{}, fmt.Errorf("parsing rule yaml: %w", err)
	}
	return w.toRule()
}

func toWire(r Rule) wireRule {
	w := wireRule{
		Frequency:            string(r.Frequency),
		Interval:             r.Interval,
		MonthOfYear:          r.MonthOfYear,
		Anchor:               string(r.Anchor),
		OccurrencesGenerated: r.OccurrencesGenerated,
	}
	for _, d := range r.Weekdays {
		w.Weekdays = append(w.Weekdays, int(d))
	}

	switch p := r.Monthly.(type) {
	case OrdinalWeekday:
		w.MonthlyMode = modeOrdinalWeekday
		w.OrdinalWeek = p.Week
		w.OrdinalWeekday = int(p.Weekday)
	case DayOfMonth:
		w.MonthlyMode = modeDayOfMonth
		w.DayOfMonth = p.Day
	}

	switch e := r.End.(type) {
	case AfterOccurrences:
		w.EndCondition = &wireEnd{Type: endAfterOccurrences, Count: e.Count}
	case OnDate:
		w.EndCondition = &wireEnd{Type: endOnDate, Date: e.Date.Format(endDateLayout)}
	default:
		w.EndCondition = &wireEnd{Type: endNever}
	}

	return w
}

func (w wireRule) toRule() (Rule, error) {
	freq := Frequency(w.Frequency)
	if freq == "" {
		return Rule{}, ErrMissingFrequency
	}
	if !freq.Valid() {
		return Rule{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, w.Frequency)
	}

	r := Rule{
		Frequency:            freq,
		Interval:             w.Interval,
		Anchor:               Anchor(w.Anchor),
		OccurrencesGenerated: w.OccurrencesGenerated,
	}
	if r.OccurrencesGenerated < 0 {
		r.OccurrencesGenerated = 0
	}

	for _, d := range w.Weekdays {
		if wd := Weekday(d); wd.Valid() {
			r.Weekdays = append(r.Weekdays, wd)
		}
	}

	// Yearly rules only use the day of month; monthlyMode is ignored for them.
	if w.MonthlyMode == modeOrdinalWeekday && freq != Yearly {
		p := OrdinalWeekday{Week: w.OrdinalWeek, Weekday: Weekday(w.OrdinalWeekday)}
		if p.Week != LastWeek && (p.Week < 1 || p.Week > 5) {
			p.Week = 1
		}
		if !p.Weekday.Valid() {
			p.Weekday = Monday
		}
		r.Monthly = p
	} else if (w.MonthlyMode == modeDayOfMonth && freq != Yearly) || w.DayOfMonth != 0 {
		day := w.DayOfMonth
		if day < 1 || day > 31 {
			day = 1
		}
		r.Monthly = DayOfMonth{Day: day}
	}

	if w.MonthOfYear >= 1 && w.MonthOfYear <= 12 {
		r.MonthOfYear = w.MonthOfYear
	}

	r.End = decodeEnd(w.EndCondition)

	return r.Normalize(), nil
}

func decodeEnd(w *wireEnd) EndCondition {
	if w == nil {
		return Never{}
	}
	switch w.Type {
	case endAfterOccurrences:
		if w.Count >= 1 {
			return AfterOccurrences{Count: w.Count}
		}
	case endOnDate:
		if d, ok := parseEndDate(w.Date); ok {
			return OnDate{Date: d}
		}
	}
	return Never{}
}

func parseEndDate(s string) (time.Time, bool) {
	if t, err := time.Parse(endDateLayout, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// EndDate builds an OnDate condition for the calendar day of t.
func EndDate(t time.Time) OnDate {
	return OnDate{Date: time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)}
}

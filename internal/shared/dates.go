package shared

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// DateRange is an inclusive calendar range; nil bounds are open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// Contains reports whether the day of t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	day := TruncateDay(t)
	if r.From != nil && day.Before(TruncateDay(*r.From)) {
		return false
	}
	if r.To != nil && day.After(TruncateDay(*r.To)) {
		return false
	}
	return true
}

// Key renders the range for cache keys.
func (r DateRange) Key() string {
	from, to := "-", "-"
	if r.From != nil {
		from = r.From.Format(DateLayout)
	}
	if r.To != nil {
		to = r.To.Format(DateLayout)
	}
	return from + ":" + to
}

// ParseDateRange parses optional YYYY-MM-DD bounds.
func ParseDateRange(from, to string) (DateRange, error) {
	var r DateRange
	if from != "" {
		t, err := ParseDate(from)
		if err != nil {
			return DateRange{}, err
		}
		r.From = &t
	}
	if to != "" {
		t, err := ParseDate(to)
		if err != nil {
			return DateRange{}, err
		}
		r.To = &t
	}
	if r.From != nil && r.To != nil && r.To.Before(*r.From) {
		return DateRange{}, fmt.Errorf("%w: date_to before date_from", ErrValidation)
	}
	return r, nil
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, value)
	}
	return t, nil
}

// TruncateDay drops the clock part, keeping the calendar day in UTC.
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package model

import (
	"fmt"
	"time"
)

// NextOccurrence computes the soonest occurrence of the template strictly
// after from. It is pure: all arithmetic happens in the template's own
// timezone so daylight-saving shifts never move the intended local time.
func NextOccurrence(tmpl RecurringTemplate, from time.Time) (time.Time, error) {
	if err := tmpl.Validate(); err != nil {
		return time.Time{}, err
	}
	loc, err := tmpl.Location()
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := tmpl.ClockTime()
	if err != nil {
		return time.Time{}, err
	}
	local := from.In(loc)

	switch tmpl.Kind {
	case RecurWeekly:
		return nextWeekly(local, time.Weekday(tmpl.Weekday), hour, minute), nil
	case RecurMonthly:
		return nextMonthly(local, tmpl.DayOfMonth, hour, minute), nil
	case RecurQuarterly:
		return nextQuarterly(local, tmpl.AnchorMonth, tmpl.DayOfMonth, hour, minute), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, tmpl.Kind)
	}
}

// PreviewOccurrences iterates NextOccurrence count times, feeding each result
// back in as the new reference point.
func PreviewOccurrences(tmpl RecurringTemplate, from time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return []time.Time{}, nil
	}
	out := make([]time.Time, 0, count)
	cursor := from
	for i := 0; i < count; i++ {
		next, err := NextOccurrence(tmpl, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

func nextWeekly(local time.Time, weekday time.Weekday, hour, minute int) time.Time {
	offset := (int(weekday) - int(local.Weekday()) + 7) % 7
	y, m, d := local.AddDate(0, 0, offset).Date()
	candidate := time.Date(y, m, d, hour, minute, 0, 0, local.Location())
	if !candidate.After(local) {
		y, m, d = candidate.AddDate(0, 0, 7).Date()
		candidate = time.Date(y, m, d, hour, minute, 0, 0, local.Location())
	}
	return candidate
}

// nextMonthly always advances to the following month, clamping the requested
// day to that month's length (Jan 31 -> Feb 28).
func nextMonthly(local time.Time, dayOfMonth, hour, minute int) time.Time {
	y, m, _ := local.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, local.Location()).AddDate(0, 1, 0)
	return clampedDayAt(first.Year(), first.Month(), dayOfMonth, hour, minute, local.Location())
}

func nextQuarterly(local time.Time, anchorMonth, dayOfMonth, hour, minute int) time.Time {
	loc := local.Location()
	// Start the 3-month walk a year back from the reference so the anchor
	// phase is preserved no matter how old the template is.
	candidate := clampedDayAt(local.Year()-1, time.Month(anchorMonth), dayOfMonth, hour, minute, loc)
	for !candidate.After(local) {
		next := time.Date(candidate.Year(), candidate.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 3, 0)
		candidate = clampedDayAt(next.Year(), next.Month(), dayOfMonth, hour, minute, loc)
	}
	return candidate
}

func clampedDayAt(year int, month time.Month, day, hour, minute int, loc *time.Location) time.Time {
	if last := daysInMonth(month, year); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func daysInMonth(month time.Month, year int) int {
	// First of next month, rolled back a day.
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}

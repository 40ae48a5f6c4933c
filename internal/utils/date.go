// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "time"

// DayFormat is the wire/date-parameter layout for calendar days.
const DayFormat = "2006-01-02"

// Day normalizes an instant to its calendar day as observed in loc, returned
// as midnight UTC of that day. Using a single canonical representation keeps
// day keys comparable and indexable regardless of the instant's offset.
//
// Example:
//
//	d := utils.Day(time.Date(2025, 2, 3, 23, 30, 0, 0, berlin), berlin)
//	// d == 2025-02-03 00:00:00 UTC
func Day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey truncates a day-valued time (one that already represents a calendar
// day, such as a stored date column) to its canonical key: midnight UTC of
// the calendar date it carries. Unlike Day it never shifts the date through
// another timezone.
func DayKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a "YYYY-MM-DD" string into a canonical day key
// (midnight UTC). It returns an error for malformed input.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayFormat, s)
}

// DayBounds returns the half-open instant interval [start, end) covering the
// canonical day key as observed in loc. It is the inverse of Day: every
// instant t with Day(t, loc) == day falls inside the returned bounds.
func DayBounds(day time.Time, loc *time.Location) (start, end time.Time) {
	y, m, d := day.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// ISOWeekday returns the ISO-8601 weekday number for t (1=Monday .. 7=Sunday).
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

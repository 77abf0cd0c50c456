// Package deadline turns year-less task dates into absolute deadlines and
// selects the tasks that belong in a user's daily digest.
//
// Everything here is pure: the reference time carries the fixed timezone
// the system runs in, and no function reads the wall clock.
package deadline

import (
	"time"

	"deadlinebot/internal/domain"
)

// Resolve turns a "DD.MM" date and a stored time value into an instant in
// now's location.
//
// A date earlier in the calendar than now's date belongs to next year.
// Non-exact times (schedule sentinel, empty, garbage) resolve to 23:59.
// ok is false when the date does not parse or does not exist in the
// resolved year (29.02 outside a leap year). No filtering happens here.
func Resolve(date, clock string, now time.Time) (time.Time, bool) {
	day, month, err := domain.ParseDayMonth(date)
	if err != nil {
		return time.Time{}, false
	}
	loc := now.Location()

	year := now.Year()
	if month < int(now.Month()) || (month == int(now.Month()) && day < now.Day()) {
		year++
	}
	if day > domain.DaysIn(month, year) {
		return time.Time{}, false
	}

	_, h, m := domain.ClassifyTime(clock)
	return time.Date(year, time.Month(month), day, h, m, 0, 0, loc), true
}

// DaysBetween counts calendar days from from's date to to's date. Both are
// compared as civil dates, so DST shifts do not produce fractional days.
func DaysBetween(from, to time.Time) int {
	return int(civil(to).Sub(civil(from)).Hours() / 24)
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrInvalidDate = errors.New("invalid date, expected DD.MM")
	ErrInvalidTime = errors.New("invalid time, expected HH:MM or a schedule marker")
)

// TimeKind classifies the stored time of a task.
type TimeKind int

const (
	// TimeUnspecified is empty or unparseable text. It resolves to end of day.
	TimeUnspecified TimeKind = iota
	// TimeExact is a literal HH:MM.
	TimeExact
	// TimeEndOfDay is a schedule sentinel: the deadline follows the class
	// timetable and is treated as the end of the day.
	TimeEndOfDay
)

func (k TimeKind) String() string {
	switch k {
	case TimeExact:
		return "exact"
	case TimeEndOfDay:
		return "end_of_day"
	default:
		return "unspecified"
	}
}

// EndOfDayHour and EndOfDayMinute are used for every non-exact time.
const (
	EndOfDayHour   = 23
	EndOfDayMinute = 59
)

// ScheduleSentinel is the canonical marker written for "by schedule" deadlines.
const ScheduleSentinel = "by schedule"

// "schedule-sentinel" is accepted as a plain ASCII alias.
var scheduleSentinels = []string{ScheduleSentinel, "по расписанию", "schedule-sentinel"}

var (
	reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reDDMM = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})$`)
)

// IsScheduleSentinel reports whether s is one of the localized "by schedule" markers.
func IsScheduleSentinel(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, m := range scheduleSentinels {
		if v == m {
			return true
		}
	}
	return false
}

// ClassifyTime parses a stored time value. Hour and minute are only
// meaningful for TimeExact.
func ClassifyTime(s string) (kind TimeKind, hour, minute int) {
	if IsScheduleSentinel(s) {
		return TimeEndOfDay, EndOfDayHour, EndOfDayMinute
	}
	h, m, err := ParseHHMM(s)
	if err != nil {
		return TimeUnspecified, EndOfDayHour, EndOfDayMinute
	}
	return TimeExact, h, m
}

// ParseHHMM accepts H:MM or HH:MM with hour 0..23 and minute 0..59.
func ParseHHMM(s string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return hour, minute, nil
}

// ParseDayMonth parses "DD.MM". The day must exist in the month of a leap
// year, so 29.02 is accepted here and checked against the real year later.
func ParseDayMonth(s string) (day, month int, err error) {
	m := reDDMM.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	day, _ = strconv.Atoi(m[1])
	month, _ = strconv.Atoi(m[2])
	if month < 1 || month > 12 || day < 1 || day > DaysIn(month, 2024) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return day, month, nil
}

// DaysIn returns the number of days in month of year.
func DaysIn(month, year int) int {
	switch month {
	case 2:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// ValidateDate is used on task writes.
func ValidateDate(s string) error {
	_, _, err := ParseDayMonth(s)
	return err
}

// ValidateTime is used on task writes: HH:MM or a schedule sentinel.
func ValidateTime(s string) error {
	if IsScheduleSentinel(s) {
		return nil
	}
	_, _, err := ParseHHMM(s)
	return err
}

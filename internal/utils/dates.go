package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the yyyy-mm-dd layout used for calendar dates
const DateLayout = "2006-01-02"

// Date returns the UTC midnight for the given calendar day
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate converts a yyyy-mm-dd formatted string into a UTC calendar date
func ParseDate(dateStr string) (time.Time, error) {
	parts := strings.Split(dateStr, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid date format, expected yyyy-mm-dd")
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid year: %v", err)
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month: %v", err)
	}

	day, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day: %v", err)
	}

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("month must be between 1 and 12")
	}

	if day < 1 || day > DaysInMonth(year, month) {
		return time.Time{}, fmt.Errorf("day must be between 1 and %d", DaysInMonth(year, month))
	}

	return Date(year, time.Month(month), day), nil
}

// FormatDate renders a calendar date as yyyy-mm-dd
func FormatDate(d time.Time) string {
	return d.UTC().Format(DateLayout)
}

// DaysInMonth returns the number of days in a given month
func DaysInMonth(year, month int) int {
	if month == 2 {
		// Check for leap year
		if (year%4 == 0 && year%100 != 0) || (year%400 == 0) {
			return 29
		}
		return 28
	}

	// Months with 30 days: April, June, September, November
	if month == 4 || month == 6 || month == 9 || month == 11 {
		return 30
	}

	return 31
}

// TruncateDay drops the time of day, keeping the UTC calendar date
func TruncateDay(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// AddDays shifts a calendar date by n days
func AddDays(d time.Time, n int) time.Time {
	return TruncateDay(d).AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from start to end (end - start)
func DaysBetween(start, end time.Time) int {
	return int(TruncateDay(end).Sub(TruncateDay(start)).Hours() / 24)
}

// InclusiveDays counts both the start and the end date.
// A span where end is before start yields zero or a negative count.
func InclusiveDays(start, end time.Time) int {
	return DaysBetween(start, end) + 1
}

// MinDate returns the earlier of two dates
func MinDate(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// MaxDate returns the later of two dates
func MaxDate(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// Overlap intersects [aStart, aEnd] with [bStart, bEnd].
// days is zero when the ranges do not intersect.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) (start, end time.Time, days int) {
	start = MaxDate(TruncateDay(aStart), TruncateDay(bStart))
	end = MinDate(TruncateDay(aEnd), TruncateDay(bEnd))
	if end.Before(start) {
		return start, end, 0
	}
	return start, end, InclusiveDays(start, end)
}

// StartOfWeek returns the Monday on or before d
func StartOfWeek(d time.Time) time.Time {
	d = TruncateDay(d)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// NextBillingDate returns the Monday of the week following from
func NextBillingDate(from time.Time) time.Time {
	return StartOfWeek(AddDays(from, 7))
}

// AddMonthClamped moves d to the same day next month, clamping to the
// last day when the next month is shorter (Jan 31 -> Feb 28).
func AddMonthClamped(d time.Time) time.Time {
	d = TruncateDay(d)
	year, month := d.Year(), int(d.Month())+1
	if month > 12 {
		month = 1
		year++
	}
	day := d.Day()
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return Date(year, time.Month(month), day)
}

// StartOfMonth returns the first day of the month containing d
func StartOfMonth(d time.Time) time.Time {
	d = d.UTC()
	return Date(d.Year(), d.Month(), 1)
}

// EndOfMonth returns the last day of the month containing d
func EndOfMonth(d time.Time) time.Time {
	d = d.UTC()
	return Date(d.Year(), d.Month(), DaysInMonth(d.Year(), int(d.Month())))
}

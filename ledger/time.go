package ledger

import "time"

// =============================================================================
// CALENDAR DAYS
// =============================================================================

const dateLayout = "2006-01-02"

// Date returns midnight UTC for the given calendar day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DayOf drops the clock part of t, keeping t's calendar day.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// DaysInRange returns every calendar day in [from, to].
func DaysInRange(from, to time.Time) []time.Time {
	from, to = DayOf(from), DayOf(to)
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

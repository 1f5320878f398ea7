package availability

import "time"

// GridDays is the fixed size of the month view: six full weeks.
const GridDays = 42

// CalendarGrid returns the first and last date of the six-week grid showing year/month.
// The grid starts on the Sunday on or before the 1st.
func CalendarGrid(year int, month time.Month) (from, to time.Time) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	from = first.AddDate(0, 0, -int(first.Weekday()))
	to = from.AddDate(0, 0, GridDays-1)
	return from, to
}

// Dates lists every calendar date in [from, to].
func Dates(from, to time.Time) []time.Time {
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

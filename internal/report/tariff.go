package report

import "time"

// Tariff returns what a card of the given face amount actually costs.
func Tariff(amount int64) int64 {
	if amount <= 15000 {
		return amount + 500
	}
	return amount + 1000
}

// PreviousMonth returns the calendar month before now in loc as [start, end).
func PreviousMonth(now time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	end = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	start = end.AddDate(0, -1, 0)
	return start, end
}

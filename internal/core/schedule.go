package core

import "time"

// NextDate advances a due date by exactly one period. The cadence is
// anchored to the previous due date, not to the day the run happens, so
// a late run does not drift the schedule.
//
// Monthly and yearly steps keep the day of month, clamped to the length
// of the destination month (Jan 31 -> Feb 29 on leap years, Feb 28
// otherwise).
func NextDate(f Frequency, from Date) (Date, error) {
	switch f {
	case Daily:
		return from.AddDays(1), nil
	case Weekly:
		return from.AddDays(7), nil
	case Monthly:
		return addMonthsClamped(from, 1), nil
	case Yearly:
		return addYearsClamped(from, 1), nil
	}
	return Date{}, ErrInvalidFrequency
}

func addMonthsClamped(d Date, months int) Date {
	y, m, day := d.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(firstOfTarget); day > last {
		day = last
	}
	return NewDate(firstOfTarget.Year(), int(firstOfTarget.Month()), day)
}

func addYearsClamped(d Date, years int) Date {
	y, m, day := d.Date()
	firstOfTarget := time.Date(y+years, m, 1, 0, 0, 0, 0, time.UTC)
	if last := daysIn(firstOfTarget); day > last {
		day = last
	}
	return NewDate(firstOfTarget.Year(), int(firstOfTarget.Month()), day)
}

// daysIn returns the number of days in the month containing t.
func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

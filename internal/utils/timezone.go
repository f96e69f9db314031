package utils

import (
	"time"
	_ "time/tzdata"
)

func LoadLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DateInTimezone formats t as YYYY-MM-DD in tz.
func DateInTimezone(t time.Time, tz string) string {
	return t.In(LoadLocation(tz)).Format("2006-01-02")
}

// DayBounds returns [start, end) of the calendar day named by date in tz.
func DayBounds(date string, tz string) (time.Time, time.Time, error) {
	loc := LoadLocation(tz)
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return day, day.AddDate(0, 0, 1), nil
}

package utils

import (
	"time"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ConvertToDate truncates a timestamp to its calendar date in the given
// timezone (midnight local time).
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = "Asia/Yangon"
	}

	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t, err
	}
	localTime := t.In(location)

	dateOnly := time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, location)
	return dateOnly, nil
}

// DayBounds returns the half-open [start, end) range covering the local
// calendar day containing t.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	local := t.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start, end
}

// DateOnly truncates t to midnight of its local day. Used as the work_date
// key so one employee gets exactly one row per calendar day.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

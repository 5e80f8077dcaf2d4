package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"

	MinutesPerDay = 24 * 60
)

// Appointment is the booking aggregate. Date is a civil date held as midnight
// UTC; StartMinute is business-local wall clock minutes after midnight.
type Appointment struct {
	ID              string
	CustomerRef     string
	CustomerEmail   string
	ServiceRef      string
	Date            time.Time
	StartMinute     int
	DurationMinutes int
	BufferMinutes   int
	Status          Status
	Note            string
	Price           decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) EndMinute() int {
	return a.StartMinute + a.DurationMinutes
}

// StartsAt resolves the appointment start in the business location.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return WallClock(a.Date, a.StartMinute, loc)
}

func (a Appointment) EndsAt(loc *time.Location) time.Time {
	return WallClock(a.Date, a.EndMinute(), loc)
}

func (a Appointment) DateString() string {
	return a.Date.Format(DateFormat)
}

func (a Appointment) TimeString() string {
	return FormatMinute(a.StartMinute)
}

// ParseDate parses YYYY-MM-DD into a civil date.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, s, time.UTC)
}

// CivilDate strips t down to its calendar date as seen in t's location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WallClock returns the instant at minute on civil date day in loc. Minutes
// past 24:00 roll into the next day.
func WallClock(day time.Time, minute int, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, loc)
}

// ParseMinute parses HH:MM into minutes after midnight. "24:00" is accepted
// as the end of day.
func ParseMinute(s string) (int, error) {
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

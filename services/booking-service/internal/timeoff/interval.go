package timeoff

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Interval is an administrator-declared blackout. All-day intervals block the
// whole of every business-local calendar day between Start and End; partial
// intervals block exactly [Start, End).
type Interval struct {
	ID        string
	Start     time.Time
	End       time.Time
	Reason    string
	AllDay    bool
	CreatedAt time.Time
}

// coveredDays returns the first and last civil dates an all-day interval
// blocks.
func (i Interval) coveredDays(loc *time.Location) (time.Time, time.Time) {
	return model.CivilDate(i.Start.In(loc)), model.CivilDate(i.End.In(loc))
}

// Overlaps reports whether i blocks any part of [from, to).
func (i Interval) Overlaps(from, to time.Time, loc *time.Location) bool {
	if i.AllDay {
		first, last := i.coveredDays(loc)
		blockStart := model.WallClock(first, 0, loc)
		blockEnd := model.WallClock(last.AddDate(0, 0, 1), 0, loc)
		return blockStart.Before(to) && blockEnd.After(from)
	}
	return i.Start.Before(to) && i.End.After(from)
}

// DaySpan returns the minutes of civil date day that i blocks as a half-open
// [start, end) range. ok is false when i does not touch day.
func (i Interval) DaySpan(day time.Time, loc *time.Location) (start, end int, ok bool) {
	day = model.CivilDate(day)
	if i.AllDay {
		first, last := i.coveredDays(loc)
		if day.Before(first) || day.After(last) {
			return 0, 0, false
		}
		return 0, model.MinutesPerDay, true
	}

	dayStart := model.WallClock(day, 0, loc)
	dayEnd := model.WallClock(day.AddDate(0, 0, 1), 0, loc)
	if !i.Start.Before(dayEnd) || !i.End.After(dayStart) {
		return 0, 0, false
	}

	s, e := i.Start, i.End
	if s.Before(dayStart) {
		s = dayStart
	}
	start = 0
	if s.After(dayStart) {
		local := s.In(loc)
		start = local.Hour()*60 + local.Minute()
	}
	end = model.MinutesPerDay
	if e.Before(dayEnd) {
		local := e.In(loc)
		end = local.Hour()*60 + local.Minute()
		if local.Second() > 0 || local.Nanosecond() > 0 {
			end++
		}
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// Overlapping filters intervals down to those blocking part of [from, to).
func Overlapping(intervals []Interval, from, to time.Time, loc *time.Location) []Interval {
	var out []Interval
	for _, iv := range intervals {
		if iv.Overlaps(from, to, loc) {
			out = append(out, iv)
		}
	}
	return out
}

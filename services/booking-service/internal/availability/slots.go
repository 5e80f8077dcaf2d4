// Package availability turns the weekly template, blackouts and existing
// bookings for one date into bookable slot starts. Everything here is pure:
// the caller supplies every input, including the current time.
package availability

import (
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
)

// Busy is a non-cancelled appointment already on the date.
type Busy struct {
	StartMinute     int
	DurationMinutes int
	// BufferMinutes is the buffer the appointment was booked with. It is
	// what the storage guard enforces, so lowering the configured buffer
	// never shrinks it.
	BufferMinutes int
}

type Request struct {
	// Date is the civil date being computed.
	Date            time.Time
	Window          policy.Window
	TimeOff         []timeoff.Interval
	Booked          []Busy
	DurationMinutes int
	StepMinutes     int
	BufferMinutes   int
	Location        *time.Location
	// Now is only consulted when Date is the current business day.
	Now time.Time
}

// Compute returns slot start instants in the business location, ascending.
func Compute(req Request) []time.Time {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	minutes := ComputeMinutes(req)
	if len(minutes) == 0 {
		return nil
	}
	out := make([]time.Time, len(minutes))
	for i, m := range minutes {
		out[i] = model.WallClock(req.Date, m, loc)
	}
	return out
}

// ComputeMinutes is Compute expressed as minutes after local midnight.
func ComputeMinutes(req Request) []int {
	w := req.Window
	if !w.Open || w.EndMinute <= w.StartMinute {
		return nil
	}
	if req.DurationMinutes <= 0 || req.StepMinutes <= 0 || req.BufferMinutes < 0 {
		return nil
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	day := model.CivilDate(req.Date)

	free := []span{{start: w.StartMinute, end: w.EndMinute}}
	for _, iv := range req.TimeOff {
		if s, e, ok := iv.DaySpan(day, loc); ok {
			free = subtract(free, span{start: s, end: e})
		}
	}
	for _, b := range req.Booked {
		buffer := max(b.BufferMinutes, req.BufferMinutes)
		free = subtract(free, span{
			start: b.StartMinute - buffer,
			end:   b.StartMinute + b.DurationMinutes + buffer,
		})
	}

	var cutoff time.Time
	if !req.Now.IsZero() && model.CivilDate(req.Now.In(loc)).Equal(day) {
		cutoff = req.Now
	}

	var slots []int
	for _, f := range free {
		for m := alignUp(f.start, w.StartMinute, req.StepMinutes); m+req.DurationMinutes <= f.end; m += req.StepMinutes {
			if !cutoff.IsZero() && model.WallClock(day, m, loc).Before(cutoff) {
				continue
			}
			slots = append(slots, m)
		}
	}
	return slots
}

// span is a half-open [start, end) range of minutes.
type span struct {
	start int
	end   int
}

// subtract removes cut from every span in free. free is sorted and disjoint
// and stays that way.
func subtract(free []span, cut span) []span {
	if cut.end <= cut.start {
		return free
	}
	out := make([]span, 0, len(free)+1)
	for _, f := range free {
		if cut.end <= f.start || cut.start >= f.end {
			out = append(out, f)
			continue
		}
		if cut.start > f.start {
			out = append(out, span{start: f.start, end: cut.start})
		}
		if cut.end < f.end {
			out = append(out, span{start: cut.end, end: f.end})
		}
	}
	return out
}

// alignUp returns the first minute >= m that sits on the step grid anchored
// at origin.
func alignUp(m, origin, step int) int {
	if m <= origin {
		return origin
	}
	offset := (m - origin + step - 1) / step
	return origin + offset*step
}

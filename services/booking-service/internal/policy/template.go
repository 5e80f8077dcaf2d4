package policy

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Window is the open interval for one weekday in business-local minutes after
// midnight. A closed day has Open=false and zero bounds.
type Window struct {
	Open        bool
	StartMinute int
	EndMinute   int
}

func Closed() Window { return Window{} }

func Open(startMinute, endMinute int) Window {
	return Window{Open: true, StartMinute: startMinute, EndMinute: endMinute}
}

func (w Window) Validate() error {
	if !w.Open {
		return nil
	}
	if w.StartMinute < 0 || w.EndMinute > model.MinutesPerDay {
		return fmt.Errorf("window %s-%s is outside the day", model.FormatMinute(w.StartMinute), model.FormatMinute(w.EndMinute))
	}
	if w.StartMinute >= w.EndMinute {
		return fmt.Errorf("window start %s must be before end %s", model.FormatMinute(w.StartMinute), model.FormatMinute(w.EndMinute))
	}
	return nil
}

// WorkDayRule is one row of the weekly template.
type WorkDayRule struct {
	Weekday time.Weekday
	Window
}

// WeeklyTemplate holds one rule per weekday, indexed by time.Weekday.
type WeeklyTemplate [7]WorkDayRule

// DefaultWeek is Monday to Friday 09:00-17:00, weekend closed.
func DefaultWeek() WeeklyTemplate {
	var t WeeklyTemplate
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		t[wd] = WorkDayRule{Weekday: wd}
		if wd != time.Saturday && wd != time.Sunday {
			t[wd].Window = Open(9*60, 17*60)
		}
	}
	return t
}

func (t WeeklyTemplate) Window(wd time.Weekday) Window {
	return t[wd].Window
}

// With returns a copy of t with wd replaced.
func (t WeeklyTemplate) With(wd time.Weekday, w Window) WeeklyTemplate {
	if !w.Open {
		w = Closed()
	}
	t[wd] = WorkDayRule{Weekday: wd, Window: w}
	return t
}

func (t WeeklyTemplate) Validate() error {
	for i, rule := range t {
		if rule.Weekday != time.Weekday(i) {
			return fmt.Errorf("rule %d carries weekday %s", i, rule.Weekday)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s: %w", rule.Weekday, err)
		}
	}
	return nil
}

package handlers

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
)

type appointmentView struct {
	ID              string    `json:"id"`
	CustomerRef     string    `json:"customer_ref,omitempty"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	ServiceID       string    `json:"service_id"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
	BufferMinutes   int       `json:"buffer_minutes"`
	Status          string    `json:"status"`
	Note            string    `json:"note,omitempty"`
	Price           string    `json:"price"`
	StartsAt        string    `json:"starts_at"`
	EndsAt          string    `json:"ends_at"`
	CreatedAt       time.Time `json:"created_at,omitzero"`
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
}

func toAppointmentView(a model.Appointment, loc *time.Location) appointmentView {
	return appointmentView{
		ID:              a.ID,
		CustomerRef:     a.CustomerRef,
		CustomerEmail:   a.CustomerEmail,
		ServiceID:       a.ServiceRef,
		Date:            a.DateString(),
		Time:            a.TimeString(),
		DurationMinutes: a.DurationMinutes,
		BufferMinutes:   a.BufferMinutes,
		Status:          string(a.Status),
		Note:            a.Note,
		Price:           a.Price.StringFixed(2),
		StartsAt:        a.StartsAt(loc).Format(time.RFC3339),
		EndsAt:          a.EndsAt(loc).Format(time.RFC3339),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type serviceView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
	Description     string `json:"description,omitempty"`
	Active          bool   `json:"active"`
}

func toServiceView(s catalog.Service) serviceView {
	return serviceView{
		ID:              s.ID,
		Name:            s.Name,
		DurationMinutes: s.DurationMinutes,
		Price:           s.Price.StringFixed(2),
		Description:     s.Description,
		Active:          s.Active,
	}
}

type dayView struct {
	Weekday string `json:"weekday"`
	Open    bool   `json:"open"`
	Start   string `json:"start,omitempty"`
	End     string `json:"end,omitempty"`
}

func toDayView(wd time.Weekday, w policy.Window) dayView {
	v := dayView{Weekday: strings.ToLower(wd.String()), Open: w.Open}
	if w.Open {
		v.Start = model.FormatMinute(w.StartMinute)
		v.End = model.FormatMinute(w.EndMinute)
	}
	return v
}

// window parses a day body. A closed day needs no times.
func (d dayView) window() (policy.Window, error) {
	if !d.Open {
		return policy.Closed(), nil
	}
	start, err := model.ParseMinute(d.Start)
	if err != nil {
		return policy.Window{}, badRequest("start must be HH:MM")
	}
	end, err := model.ParseMinute(d.End)
	if err != nil {
		return policy.Window{}, badRequest("end must be HH:MM")
	}
	w := policy.Open(start, end)
	if err := w.Validate(); err != nil {
		return policy.Window{}, badRequest(err.Error())
	}
	return w, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		name := strings.ToLower(wd.String())
		if s == name || s == name[:3] {
			return wd, true
		}
	}
	return 0, false
}

type timeOffView struct {
	ID     string `json:"id"`
	Start  string `json:"start"`
	End    string `json:"end"`
	AllDay bool   `json:"all_day"`
	Reason string `json:"reason,omitempty"`
}

func toTimeOffView(iv timeoff.Interval, loc *time.Location) timeOffView {
	v := timeOffView{ID: iv.ID, AllDay: iv.AllDay, Reason: iv.Reason}
	if iv.AllDay {
		v.Start = iv.Start.In(loc).Format(model.DateFormat)
		v.End = iv.End.In(loc).Format(model.DateFormat)
	} else {
		v.Start = iv.Start.In(loc).Format(time.RFC3339)
		v.End = iv.End.In(loc).Format(time.RFC3339)
	}
	return v
}

// parseInstant accepts RFC 3339 or a bare date, read as business-local
// midnight.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	day, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, err
	}
	return model.WallClock(day, 0, loc), nil
}

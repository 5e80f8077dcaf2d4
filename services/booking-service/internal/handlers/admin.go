package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
	"github.com/shopspring/decimal"
)

type Hours interface {
	Week(ctx context.Context) (policy.WeeklyTemplate, int64, error)
	SetWindow(ctx context.Context, wd time.Weekday, w policy.Window) (int64, error)
	ReplaceWeek(ctx context.Context, week policy.WeeklyTemplate) (int64, error)
}

type TimeOffs interface {
	Add(ctx context.Context, iv timeoff.Interval) (timeoff.Interval, error)
	Remove(ctx context.Context, id string) error
	Overlapping(ctx context.Context, from, to time.Time) ([]timeoff.Interval, error)
}

type AppointmentLister interface {
	List(ctx context.Context, f storage.Filter) ([]model.Appointment, error)
}

type StatusChanger interface {
	SetStatus(ctx context.Context, id string, to model.Status, actor string) (booking.StatusResult, error)
}

// CacheFlusher drops cached slot lists after a time-off edit.
type CacheFlusher interface {
	InvalidateAll(ctx context.Context) error
}

type AdminHandler struct {
	hours    Hours
	timeOff  TimeOffs
	appts    AppointmentLister
	statuses StatusChanger
	catalog  ServiceCatalog
	cache    CacheFlusher
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

type AdminDeps struct {
	Hours    Hours
	TimeOff  TimeOffs
	Appts    AppointmentLister
	Statuses StatusChanger
	Catalog  ServiceCatalog
	// Cache may be nil.
	Cache    CacheFlusher
	Location *time.Location
	Logger   *slog.Logger
}

func NewAdminHandler(d AdminDeps) *AdminHandler {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &AdminHandler{
		hours:    d.Hours,
		timeOff:  d.TimeOff,
		appts:    d.Appts,
		statuses: d.Statuses,
		catalog:  d.Catalog,
		cache:    d.Cache,
		loc:      d.Location,
		now:      time.Now,
		logger:   d.Logger,
	}
}

type weekResponse struct {
	Version int64     `json:"version"`
	Days    []dayView `json:"days"`
}

type weekRequest struct {
	Days []dayView `json:"days"`
}

func (h *AdminHandler) Hours(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeWeek(w, r)
	case http.MethodPut:
		if raw := r.URL.Query().Get("weekday"); raw != "" {
			h.setDay(w, r, raw)
			return
		}
		h.replaceWeek(w, r)
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (h *AdminHandler) writeWeek(w http.ResponseWriter, r *http.Request) {
	week, version, err := h.hours.Week(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	resp := weekResponse{Version: version, Days: make([]dayView, 0, len(week))}
	for _, rule := range week {
		resp.Days = append(resp.Days, toDayView(rule.Weekday, rule.Window))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) setDay(w http.ResponseWriter, r *http.Request, raw string) {
	wd, ok := parseWeekday(raw)
	if !ok {
		writeError(w, r, h.logger, badRequest("weekday must be a day name such as monday"))
		return
	}
	var day dayView
	if err := httpx.DecodeJSON(r, &day); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	win, err := day.window()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if _, err := h.hours.SetWindow(r.Context(), wd, win); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeWeek(w, r)
}

func (h *AdminHandler) replaceWeek(w http.ResponseWriter, r *http.Request) {
	var req weekRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	// Days left out of the body are closed.
	var week policy.WeeklyTemplate
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		week = week.With(wd, policy.Closed())
	}
	seen := map[time.Weekday]bool{}
	for _, d := range req.Days {
		wd, ok := parseWeekday(d.Weekday)
		if !ok {
			writeError(w, r, h.logger, badRequest("unknown weekday "+strconv.Quote(d.Weekday)))
			return
		}
		if seen[wd] {
			writeError(w, r, h.logger, badRequest("weekday listed twice: "+d.Weekday))
			return
		}
		seen[wd] = true
		win, err := d.window()
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		week = week.With(wd, win)
	}
	if _, err := h.hours.ReplaceWeek(r.Context(), week); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writeWeek(w, r)
}

type timeOffRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	AllDay bool   `json:"all_day"`
	Reason string `json:"reason"`
}

func (h *AdminHandler) TimeOff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTimeOff(w, r)
	case http.MethodPost:
		h.addTimeOff(w, r)
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if err := h.timeOff.Remove(r.Context(), id); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		h.flushSlots(r)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *AdminHandler) listTimeOff(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := model.WallClock(model.CivilDate(h.now().In(h.loc)), 0, h.loc)
	to := from.AddDate(0, 0, 90)
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = parseInstant(raw, h.loc); err != nil {
			writeError(w, r, h.logger, badRequest("from must be a date or RFC 3339 time"))
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = parseInstant(raw, h.loc); err != nil {
			writeError(w, r, h.logger, badRequest("to must be a date or RFC 3339 time"))
			return
		}
	}
	items, err := h.timeOff.Overlapping(r.Context(), from, to)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]timeOffView, 0, len(items))
	for _, iv := range items {
		out = append(out, toTimeOffView(iv, h.loc))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) addTimeOff(w http.ResponseWriter, r *http.Request) {
	var req timeOffRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	start, err := parseInstant(req.Start, h.loc)
	if err != nil {
		writeError(w, r, h.logger, badRequest("start must be a date or RFC 3339 time"))
		return
	}
	end, err := parseInstant(req.End, h.loc)
	if err != nil {
		writeError(w, r, h.logger, badRequest("end must be a date or RFC 3339 time"))
		return
	}
	saved, err := h.timeOff.Add(r.Context(), timeoff.Interval{Start: start, End: end, AllDay: req.AllDay, Reason: req.Reason})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.flushSlots(r)
	httpx.WriteJSON(w, http.StatusCreated, toTimeOffView(saved, h.loc))
}

func (h *AdminHandler) flushSlots(r *http.Request) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateAll(r.Context()); err != nil {
		h.logger.Warn("slot cache flush failed", "err", err)
	}
}

func (h *AdminHandler) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	var f storage.Filter
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := strings.TrimSpace(q.Get(p.key))
		if raw == "" {
			continue
		}
		d, err := model.ParseDate(raw)
		if err != nil {
			writeError(w, r, h.logger, badRequest(p.key+" must be YYYY-MM-DD"))
			return
		}
		*p.dst = d
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			writeError(w, r, h.logger, badRequest(err.Error()))
			return
		}
		f.Status = st
	}
	f.Customer = strings.TrimSpace(q.Get("customer"))
	f.Limit = 100
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			f.Limit = n
		}
	}

	appts, err := h.appts.List(r.Context(), f)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]appointmentView, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentView(a, h.loc))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type statusResponse struct {
	Appointment appointmentView `json:"appointment"`
	Warning     string          `json:"warning,omitempty"`
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		writeError(w, r, h.logger, badRequest("appointment_id is required"))
		return
	}
	to, err := model.ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}

	res, err := h.statuses.SetStatus(r.Context(), id, to, actorFrom(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statusResponse{Appointment: toAppointmentView(res.Appointment, h.loc), Warning: res.Warning})
}

type serviceRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           string `json:"price"`
	Description     string `json:"description"`
}

type serviceActiveRequest struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

func (h *AdminHandler) Services(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		services, err := h.catalog.List(r.Context(), false)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		out := make([]serviceView, 0, len(services))
		for _, s := range services {
			out = append(out, toServiceView(s))
		}
		httpx.WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var req serviceRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeError(w, r, h.logger, badRequest(err.Error()))
			return
		}
		price := decimal.Zero
		if strings.TrimSpace(req.Price) != "" {
			p, err := decimal.NewFromString(strings.TrimSpace(req.Price))
			if err != nil {
				writeError(w, r, h.logger, badRequest("price must be a decimal number"))
				return
			}
			price = p
		}
		created, err := h.catalog.Create(r.Context(), catalog.Service{
			Name:            req.Name,
			DurationMinutes: req.DurationMinutes,
			Price:           price,
			Description:     req.Description,
		})
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, toServiceView(created))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// ServiceActive retires or restores a service. Existing appointments keep
// the terms they were booked with.
func (h *AdminHandler) ServiceActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req serviceActiveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	if err := h.catalog.SetActive(r.Context(), strings.TrimSpace(req.ID), req.Active); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

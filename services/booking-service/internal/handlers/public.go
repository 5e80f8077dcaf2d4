package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Booker is the part of the booking service the public surface drives.
type Booker interface {
	RequestSlots(ctx context.Context, date time.Time, serviceID string) ([]time.Time, error)
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Location() *time.Location
}

type ServiceCatalog interface {
	List(ctx context.Context, activeOnly bool) ([]catalog.Service, error)
	Create(ctx context.Context, s catalog.Service) (catalog.Service, error)
	SetActive(ctx context.Context, id string, active bool) error
}

type PublicHandler struct {
	booker  Booker
	catalog ServiceCatalog
	logger  *slog.Logger
}

func NewPublicHandler(booker Booker, services ServiceCatalog, logger *slog.Logger) *PublicHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicHandler{booker: booker, catalog: services, logger: logger}
}

func (h *PublicHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	services, err := h.catalog.List(r.Context(), true)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]serviceView, 0, len(services))
	for _, s := range services {
		out = append(out, toServiceView(s))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type slotView struct {
	Time     string `json:"time"`
	StartsAt string `json:"starts_at"`
}

type slotsResponse struct {
	Date      string     `json:"date"`
	ServiceID string     `json:"service_id"`
	Timezone  string     `json:"timezone"`
	Slots     []slotView `json:"slots"`
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	serviceID := strings.TrimSpace(q.Get("service_id"))
	dateStr := strings.TrimSpace(q.Get("date"))
	if serviceID == "" || dateStr == "" {
		writeError(w, r, h.logger, badRequest("date and service_id are required"))
		return
	}
	date, err := model.ParseDate(dateStr)
	if err != nil {
		writeError(w, r, h.logger, badRequest("date must be YYYY-MM-DD"))
		return
	}

	slots, err := h.booker.RequestSlots(r.Context(), date, serviceID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	loc := h.booker.Location()
	resp := slotsResponse{
		Date:      date.Format(model.DateFormat),
		ServiceID: serviceID,
		Timezone:  loc.String(),
		Slots:     make([]slotView, 0, len(slots)),
	}
	for _, s := range slots {
		local := s.In(loc)
		resp.Slots = append(resp.Slots, slotView{Time: local.Format(model.TimeFormat), StartsAt: local.Format(time.RFC3339)})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	ServiceID     string `json:"service_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	CustomerRef   string `json:"customer_ref"`
	CustomerEmail string `json:"customer_email"`
	Note          string `json:"note"`
}

func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, badRequest(err.Error()))
		return
	}
	date, err := model.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, r, h.logger, badRequest("date must be YYYY-MM-DD"))
		return
	}
	minute, err := model.ParseMinute(strings.TrimSpace(req.Time))
	if err != nil || minute >= model.MinutesPerDay {
		writeError(w, r, h.logger, badRequest("time must be HH:MM"))
		return
	}

	appt, err := h.booker.Book(r.Context(), booking.BookRequest{
		ServiceID:     strings.TrimSpace(req.ServiceID),
		Date:          date,
		StartMinute:   minute,
		CustomerRef:   req.CustomerRef,
		CustomerEmail: req.CustomerEmail,
		Note:          req.Note,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toAppointmentView(appt, h.booker.Location()))
}

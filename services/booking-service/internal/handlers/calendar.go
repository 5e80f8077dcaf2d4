package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
)

// Calendar is the connection lifecycle of the owner's calendar.
type Calendar interface {
	Status(ctx context.Context) (calendarsync.StatusReport, error)
	Connect(ctx context.Context) (string, error)
	Complete(ctx context.Context, state, code string) error
	Disconnect(ctx context.Context) error
}

type Resyncer interface {
	ResyncAll(ctx context.Context) (booking.ResyncSummary, error)
	RequestResync(ctx context.Context, actor string) error
}

type CalendarHandler struct {
	calendar Calendar
	resync   Resyncer
	logger   *slog.Logger
}

func NewCalendarHandler(calendar Calendar, resync Resyncer, logger *slog.Logger) *CalendarHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarHandler{calendar: calendar, resync: resync, logger: logger}
}

func (h *CalendarHandler) configured(w http.ResponseWriter, r *http.Request) bool {
	if h.calendar != nil {
		return true
	}
	writeError(w, r, h.logger, apperr.Validation("calendar_not_configured", "calendar sync is not configured"))
	return false
}

func (h *CalendarHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if h.calendar == nil {
		httpx.WriteJSON(w, http.StatusOK, calendarsync.StatusReport{State: calendarsync.Disconnected{}.Name()})
		return
	}
	report, err := h.calendar.Status(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *CalendarHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.configured(w, r) {
		return
	}
	url, err := h.calendar.Connect(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

// Callback is the OAuth redirect target. The provider calls it from the
// owner's browser, so it authenticates through the one-time state.
func (h *CalendarHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !h.configured(w, r) {
		return
	}
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, r, h.logger, apperr.Auth("oauth_denied", "authorization was not granted: "+denied))
		return
	}
	if err := h.calendar.Complete(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	report, err := h.calendar.Status(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (h *CalendarHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.configured(w, r) {
		return
	}
	if err := h.calendar.Disconnect(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CalendarHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := h.resync.RequestResync(r.Context(), actorFrom(r.Context())); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	summary, err := h.resync.ResyncAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, summary)
}

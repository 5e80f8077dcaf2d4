// Package booking composes the policy, time-off, ledger and calendar into
// the booking flows.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/slotcache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("apptbook.booking")

const maxNoteLength = 1000

type Config struct {
	StepMinutes   int
	BufferMinutes int
	Location      *time.Location
	// KeepCompletedEvents leaves the calendar event in place when an
	// approved appointment is completed.
	KeepCompletedEvents bool
	MaxAdvanceDays      int
	ResyncConcurrency   int
	ResyncPageSize      int
	ResyncItemTimeout   time.Duration
}

type Deps struct {
	Directory Directory
	Policy    Policy
	TimeOff   TimeOff
	Ledger    Ledger
	// Mirror and Journal may be nil when no calendar is configured.
	Mirror  Mirror
	Journal Journal
	// Cache may be nil.
	Cache   SlotCache
	Events  Events
	Clock   Clock
	Logger  *slog.Logger
	Metrics *metrics.BookingMetrics
}

type Service struct {
	Deps
	cfg Config
}

func New(deps Deps, cfg Config) *Service {
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = 15
	}
	if cfg.BufferMinutes < 0 {
		cfg.BufferMinutes = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = 365
	}
	if cfg.ResyncConcurrency <= 0 {
		cfg.ResyncConcurrency = 4
	}
	if cfg.ResyncPageSize <= 0 {
		cfg.ResyncPageSize = 100
	}
	if cfg.ResyncItemTimeout <= 0 {
		cfg.ResyncItemTimeout = 30 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{Deps: deps, cfg: cfg}
}

func (s *Service) Location() *time.Location { return s.cfg.Location }

// RequestSlots lists bookable start instants for serviceID on date.
func (s *Service) RequestSlots(ctx context.Context, date time.Time, serviceID string) (_ []time.Time, err error) {
	ctx, span := tracer.Start(ctx, "booking.RequestSlots")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(
		attribute.String("booking.date", date.Format(model.DateFormat)),
		attribute.String("booking.service_id", serviceID),
	)
	started := time.Now()
	defer func() { s.Metrics.ObserveSlotLatency(time.Since(started).Seconds()) }()

	day := model.CivilDate(date)
	if err := s.checkDate(day); err != nil {
		return nil, err
	}
	svc, err := s.Directory.Lookup(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	minutes, err := s.slotMinutes(ctx, day, serviceID, svc.DurationMinutes)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(minutes))
	for i, m := range minutes {
		out[i] = model.WallClock(day, m, s.cfg.Location)
	}
	return out, nil
}

func (s *Service) slotMinutes(ctx context.Context, day time.Time, serviceID string, duration int) ([]int, error) {
	week, version, err := s.Policy.Week(ctx)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	key := slotcache.Key{
		Date:          day,
		ServiceID:     serviceID,
		StepMinutes:   s.cfg.StepMinutes,
		BufferMinutes: s.cfg.BufferMinutes,
		PolicyVersion: version,
	}
	// Today's list shrinks as the clock moves, so only future days are cached.
	var entry slotcache.Entry
	if s.Cache != nil && day.After(s.today(now)) {
		// The entry is pinned before the ledger is read. A booking that
		// lands in between bumps the generation and orphans our write.
		entry, err = s.Cache.Resolve(ctx, key)
		if err != nil {
			s.Logger.Warn("slot cache resolve failed", "err", err)
			entry = ""
		} else {
			minutes, ok, err := s.Cache.Get(ctx, entry)
			if err != nil {
				s.Logger.Warn("slot cache read failed", "err", err)
			} else {
				s.Metrics.ObserveSlotCache(ok)
				if ok {
					return minutes, nil
				}
			}
		}
	}

	req, err := s.slotRequest(ctx, day, week.Window(day.Weekday()), duration, now, true)
	if err != nil {
		return nil, err
	}
	minutes := availability.ComputeMinutes(req)
	if entry != "" {
		if err := s.Cache.Put(ctx, entry, minutes); err != nil {
			s.Logger.Warn("slot cache write failed", "err", err)
		}
	}
	return minutes, nil
}

func (s *Service) slotRequest(ctx context.Context, day time.Time, window policy.Window, duration int, now time.Time, withBooked bool) (availability.Request, error) {
	blocks, err := s.TimeOff.ForDay(ctx, day)
	if err != nil {
		return availability.Request{}, err
	}
	req := availability.Request{
		Date:            day,
		Window:          window,
		TimeOff:         blocks,
		DurationMinutes: duration,
		StepMinutes:     s.cfg.StepMinutes,
		BufferMinutes:   s.cfg.BufferMinutes,
		Location:        s.cfg.Location,
		Now:             now,
	}
	if withBooked {
		appts, err := s.Ledger.ActiveOnDate(ctx, day)
		if err != nil {
			return availability.Request{}, err
		}
		for _, a := range appts {
			req.Booked = append(req.Booked, availability.Busy{
				StartMinute:     a.StartMinute,
				DurationMinutes: a.DurationMinutes,
				BufferMinutes:   a.BufferMinutes,
			})
		}
	}
	return req, nil
}

type BookRequest struct {
	ServiceID     string
	Date          time.Time
	StartMinute   int
	CustomerRef   string
	CustomerEmail string
	Note          string
}

// Book claims a slot for the customer. The storage constraint decides
// races; the slot check up front only produces better errors.
func (s *Service) Book(ctx context.Context, req BookRequest) (_ model.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.Book")
	defer func() { endSpan(span, err) }()
	defer func() { s.Metrics.ObserveBooking(outcome(err)) }()

	req.CustomerRef = strings.TrimSpace(req.CustomerRef)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	req.Note = strings.TrimSpace(req.Note)
	if err := s.validate(req); err != nil {
		return model.Appointment{}, err
	}
	day := model.CivilDate(req.Date)
	span.SetAttributes(
		attribute.String("booking.date", day.Format(model.DateFormat)),
		attribute.Int("booking.start_minute", req.StartMinute),
	)

	svc, err := s.Directory.Lookup(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	week, _, err := s.Policy.Week(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	window := week.Window(day.Weekday())
	now := s.Clock.Now()

	slotReq, err := s.slotRequest(ctx, day, window, svc.DurationMinutes, now, true)
	if err != nil {
		return model.Appointment{}, err
	}
	if !slices.Contains(availability.ComputeMinutes(slotReq), req.StartMinute) {
		slotReq.Booked = nil
		if slices.Contains(availability.ComputeMinutes(slotReq), req.StartMinute) {
			return model.Appointment{}, apperr.Conflict("slot_taken", "the requested time is no longer available")
		}
		return model.Appointment{}, apperr.Validation("slot_unavailable", "the requested time is not bookable")
	}

	appt, err := s.Ledger.Create(ctx, model.Appointment{
		CustomerRef:     req.CustomerRef,
		CustomerEmail:   req.CustomerEmail,
		ServiceRef:      svc.ID,
		Date:            day,
		StartMinute:     req.StartMinute,
		DurationMinutes: svc.DurationMinutes,
		BufferMinutes:   s.cfg.BufferMinutes,
		Note:            req.Note,
		Price:           svc.Price,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	s.invalidate(ctx, day)
	s.Logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"date", appt.DateString(),
		"time", appt.TimeString(),
		"service_id", appt.ServiceRef,
	)
	return appt, nil
}

func (s *Service) validate(req BookRequest) error {
	if req.ServiceID == "" {
		return apperr.Validation("invalid_request", "service_id is required")
	}
	if req.Date.IsZero() {
		return apperr.Validation("invalid_request", "date is required")
	}
	if req.StartMinute < 0 || req.StartMinute >= model.MinutesPerDay {
		return apperr.Validation("invalid_request", "time must be between 00:00 and 23:59")
	}
	if req.CustomerRef == "" && req.CustomerEmail == "" {
		return apperr.Validation("invalid_request", "customer_ref or customer_email is required")
	}
	if req.CustomerEmail != "" {
		if _, err := mail.ParseAddress(req.CustomerEmail); err != nil {
			return apperr.Validation("invalid_request", "customer_email is not a valid address")
		}
	}
	if len(req.Note) > maxNoteLength {
		return apperr.Validation("invalid_request", "note is too long")
	}
	day := model.CivilDate(req.Date)
	if err := s.checkDate(day); err != nil {
		return err
	}
	if model.WallClock(day, req.StartMinute, s.cfg.Location).Before(s.Clock.Now()) {
		return apperr.Validation("time_in_past", "the requested time has already passed")
	}
	return nil
}

func (s *Service) checkDate(day time.Time) error {
	today := s.today(s.Clock.Now())
	if day.Before(today) {
		return apperr.Validation("date_in_past", "date has already passed")
	}
	if day.After(today.AddDate(0, 0, s.cfg.MaxAdvanceDays)) {
		return apperr.Validation("date_too_far", "date is too far in the future")
	}
	return nil
}

func (s *Service) today(now time.Time) time.Time {
	return model.CivilDate(now.In(s.cfg.Location))
}

type StatusResult struct {
	Appointment model.Appointment
	// Warning is set when the calendar could not be updated. The status
	// change itself is committed.
	Warning string
}

// SetStatus moves an appointment through its lifecycle and mirrors the
// result into the calendar after commit.
func (s *Service) SetStatus(ctx context.Context, id string, to model.Status, actor string) (_ StatusResult, err error) {
	ctx, span := tracer.Start(ctx, "booking.SetStatus")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.String("booking.appointment_id", id), attribute.String("booking.to", string(to)))

	current, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return StatusResult{}, err
	}
	if !model.CanTransition(current.Status, to) {
		return StatusResult{}, apperr.InvalidTransition(string(current.Status), string(to))
	}

	op := s.syncOp(current.Status, to)
	if s.Mirror == nil {
		op = model.SyncNone
	}
	tr, err := s.Ledger.UpdateStatus(ctx, model.StatusChange{
		AppointmentID: id,
		From:          current.Status,
		To:            to,
		Sync:          op,
		Actor:         actor,
	})
	if err != nil {
		return StatusResult{}, err
	}
	s.Metrics.ObserveTransition(string(current.Status), string(to))
	if to == model.StatusCancelled {
		s.invalidate(ctx, tr.Appointment.Date)
	}
	s.Logger.Info("appointment status changed", "appointment_id", id, "from", current.Status, "to", to, "actor", actor)

	return StatusResult{Appointment: tr.Appointment, Warning: s.syncAfterCommit(ctx, tr, op)}, nil
}

func (s *Service) syncOp(from, to model.Status) model.SyncOp {
	switch {
	case to == model.StatusApproved:
		return model.SyncUpsert
	case from != model.StatusApproved:
		return model.SyncNone
	case to == model.StatusCancelled:
		return model.SyncDelete
	case to == model.StatusCompleted && !s.cfg.KeepCompletedEvents:
		return model.SyncDelete
	default:
		return model.SyncNone
	}
}

// syncAfterCommit runs the journal entry inline. A failure leaves the
// entry for the sync worker and comes back as a warning.
func (s *Service) syncAfterCommit(ctx context.Context, tr storage.Transition, op model.SyncOp) string {
	if op == model.SyncNone {
		return ""
	}
	var err error
	switch op {
	case model.SyncUpsert:
		_, err = s.Mirror.UpsertEvent(ctx, tr.Appointment)
	case model.SyncDelete:
		err = s.Mirror.RemoveEvent(ctx, tr.Appointment.ID)
	}

	if err == nil || errors.Is(err, calendarsync.ErrNotConnected) {
		outcome := "ok"
		if err != nil {
			outcome = "not_connected"
		}
		s.Metrics.ObserveSync(string(op), outcome)
		if tr.SyncTaskID != 0 && s.Journal != nil {
			if rerr := s.Journal.Resolve(ctx, tr.SyncTaskID); rerr != nil {
				s.Logger.Warn("sync task resolve failed", "task_id", tr.SyncTaskID, "err", rerr)
			}
		}
		return ""
	}

	s.Metrics.ObserveSync(string(op), "deferred")
	reason := apperr.ReasonOf(err)
	s.Logger.Warn("calendar sync deferred", "appointment_id", tr.Appointment.ID, "op", op, "reason", reason, "err", err)
	if tr.SyncTaskID != 0 && s.Journal != nil {
		if derr := s.Journal.Defer(ctx, tr.SyncTaskID, reason); derr != nil {
			s.Logger.Warn("sync task defer failed", "task_id", tr.SyncTaskID, "err", derr)
		}
	}
	return "calendar sync deferred: " + reason
}

func (s *Service) invalidate(ctx context.Context, day time.Time) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, day); err != nil {
		s.Logger.Warn("slot cache invalidate failed", "date", day.Format(model.DateFormat), "err", err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.ReasonOf(err))
	}
	span.End()
}

// Package storage is the appointment ledger. Slot uniqueness is enforced by
// the appointments exclusion constraint, never by an in-process lock.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/shopspring/decimal"
)

const appointmentColumns = `id::text, customer_ref, customer_email, service_id::text, appt_date,
	start_minute, duration_minutes, buffer_minutes, status, note, price::text, created_at, updated_at`

type AppointmentRepository struct {
	db     db.Querier
	outbox *outbox.Repository
	tasks  *SyncTaskRepository
	// SyncGrace delays the worker's first look at a fresh sync task so the
	// request that enqueued it gets to run it inline first.
	SyncGrace time.Duration
}

func NewAppointmentRepository(q db.Querier, outboxRepo *outbox.Repository, tasks *SyncTaskRepository) *AppointmentRepository {
	return &AppointmentRepository{db: q, outbox: outboxRepo, tasks: tasks, SyncGrace: 30 * time.Second}
}

// Transition is the result of a committed status change.
type Transition struct {
	Appointment model.Appointment
	// SyncTaskID is the journal entry left for the calendar, or 0.
	SyncTaskID int64
}

// Create claims the slot and records the booking. A concurrent claim on an
// overlapping range loses with a conflict and writes nothing.
func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	appt.ID = uuid.NewString()
	appt.Status = model.StatusPending
	appt.Date = model.CivilDate(appt.Date)

	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, customer_ref, customer_email, service_id, appt_date, start_minute, duration_minutes, buffer_minutes, status, note, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric)
			RETURNING created_at, updated_at
		`, appt.ID, appt.CustomerRef, appt.CustomerEmail, appt.ServiceRef, appt.Date, appt.StartMinute,
			appt.DurationMinutes, appt.BufferMinutes, string(appt.Status), appt.Note, appt.Price.String(),
		).Scan(&appt.CreatedAt, &appt.UpdatedAt)
		if err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, appt.ID, "", appt.Status, appt.CustomerRef); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.TypeAppointmentBooked, appt.ID, bookedPayload(appt))
		if err != nil {
			return err
		}
		return r.outbox.Insert(ctx, tx, evt)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return model.Appointment{}, apperr.Conflict("slot_taken", "the requested time is no longer available")
		}
		return model.Appointment{}, apperr.Storage("create appointment", err)
	}
	return appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, appointmentNotFound(id)
	}
	appt, err := scanAppointment(r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, appointmentNotFound(id)
		}
		return model.Appointment{}, apperr.Storage("get appointment", err)
	}
	return appt, nil
}

// ActiveOnDate returns the non-cancelled appointments on date by start.
func (r *AppointmentRepository) ActiveOnDate(ctx context.Context, date time.Time) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date = $1
			AND status <> 'cancelled'
		ORDER BY start_minute ASC
	`, model.CivilDate(date))
	if err != nil {
		return nil, apperr.Storage("list appointments on date", err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, apperr.Storage("list appointments on date", err)
	}
	return appts, nil
}

// Filter narrows List. Zero fields are ignored.
type Filter struct {
	From     time.Time
	To       time.Time
	Status   model.Status
	Customer string // customer ref or email
	Limit    int
}

func (r *AppointmentRepository) List(ctx context.Context, f Filter) ([]model.Appointment, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("appt_date >= $%d", model.CivilDate(f.From))
	}
	if !f.To.IsZero() {
		add("appt_date <= $%d", model.CivilDate(f.To))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if c := strings.TrimSpace(f.Customer); c != "" {
		args = append(args, c)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(customer_ref = $%d OR lower(customer_email) = lower($%d))", n, n))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		`+where+`
		ORDER BY appt_date ASC, start_minute ASC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, apperr.Storage("list appointments", err)
	}
	return appts, nil
}

// ListByStatus pages through appointments in id order. Pass the last id of
// the previous page as afterID, or "" for the first page.
func (r *AppointmentRepository) ListByStatus(ctx context.Context, status model.Status, afterID string, limit int) ([]model.Appointment, error) {
	if afterID == "" {
		afterID = uuid.Nil.String()
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
			AND id > $2::uuid
		ORDER BY id ASC
		LIMIT $3
	`, string(status), afterID, limit)
	if err != nil {
		return nil, apperr.Storage("page appointments", err)
	}
	appts, err := collectAppointments(rows)
	if err != nil {
		return nil, apperr.Storage("page appointments", err)
	}
	return appts, nil
}

// UpdateStatus applies change only while the stored status still equals
// change.From. History, outbox and the calendar journal entry commit with it.
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, change model.StatusChange) (Transition, error) {
	if _, err := uuid.Parse(change.AppointmentID); err != nil {
		return Transition{}, appointmentNotFound(change.AppointmentID)
	}

	var out Transition
	err := db.InTx(ctx, r.db, func(tx pgx.Tx) error {
		appt, err := scanAppointment(tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $3,
				updated_at = now()
			WHERE id = $1 AND status = $2
			RETURNING `+appointmentColumns,
			change.AppointmentID, string(change.From), string(change.To)))
		if err != nil {
			return err
		}
		out.Appointment = appt

		if err := insertHistory(ctx, tx, appt.ID, change.From, change.To, change.Actor); err != nil {
			return err
		}
		evt, err := outbox.NewEvent(outbox.TypeAppointmentStatusChanged, appt.ID, map[string]any{
			"appointment_id": appt.ID,
			"from":           change.From,
			"to":             change.To,
			"actor":          change.Actor,
			"changed_at":     appt.UpdatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return err
		}
		if change.Sync != model.SyncNone && r.tasks != nil {
			id, err := r.tasks.Enqueue(ctx, tx, appt.ID, change.Sync, time.Now().UTC().Add(r.SyncGrace))
			if err != nil {
				return err
			}
			out.SyncTaskID = id
		}
		return nil
	})
	if err == nil {
		return out, nil
	}
	if !db.IsNotFound(err) {
		return Transition{}, apperr.Storage("update appointment status", err)
	}

	// Nothing matched: either the record is gone or someone moved it first.
	current, gerr := r.Get(ctx, change.AppointmentID)
	if gerr != nil {
		return Transition{}, gerr
	}
	return Transition{}, apperr.InvalidTransition(string(current.Status), string(change.To))
}

// History returns the recorded status walk of an appointment, oldest first.
func (r *AppointmentRepository) History(ctx context.Context, id string) ([]model.Status, error) {
	rows, err := r.db.Query(ctx, `
		SELECT to_status
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, apperr.Storage("list status history", err)
	}
	defer rows.Close()

	var out []model.Status
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, apperr.Storage("list status history", err)
		}
		out = append(out, model.Status(s))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("list status history", err)
	}
	return out, nil
}

func insertHistory(ctx context.Context, tx db.Executor, appointmentID string, from, to model.Status, actor string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_status_history (appointment_id, from_status, to_status, actor)
		VALUES ($1, NULLIF($2, ''), $3, $4)
	`, appointmentID, string(from), string(to), actor)
	return err
}

func bookedPayload(a model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id":   a.ID,
		"customer_ref":     a.CustomerRef,
		"customer_email":   a.CustomerEmail,
		"service_id":       a.ServiceRef,
		"date":             a.DateString(),
		"time":             a.TimeString(),
		"duration_minutes": a.DurationMinutes,
		"status":           a.Status,
		"price":            a.Price.StringFixed(2),
	}
}

func appointmentNotFound(id string) error {
	e := apperr.NotFound("appointment_not_found", "appointment not found")
	e.Details = map[string]string{"id": id}
	return e
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		status string
		price  string
	)
	if err := row.Scan(
		&a.ID,
		&a.CustomerRef,
		&a.CustomerEmail,
		&a.ServiceRef,
		&a.Date,
		&a.StartMinute,
		&a.DurationMinutes,
		&a.BufferMinutes,
		&status,
		&a.Note,
		&price,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.Status(status)
	a.Date = model.CivilDate(a.Date)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %s price %q: %w", a.ID, price, err)
	}
	a.Price = p
	return a, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Package syncworker drains the calendar sync journal left behind by status
// changes whose inline calendar write failed or never ran.
package syncworker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxBackoff = time.Hour

type Tasks interface {
	FetchDue(ctx context.Context, tx db.Executor, limit int) ([]storage.SyncTask, error)
	MarkDone(ctx context.Context, tx db.Executor, ids []int64) error
	MarkFailed(ctx context.Context, tx db.Executor, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error
}

type Appointments interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

type Mirror interface {
	UpsertEvent(ctx context.Context, appt model.Appointment) (string, error)
	RemoveEvent(ctx context.Context, appointmentID string) error
}

type Outbox interface {
	Insert(ctx context.Context, tx db.Executor, evt outbox.Event) error
}

type Worker struct {
	db        db.Querier
	tasks     Tasks
	appts     Appointments
	mirror    Mirror
	outbox    Outbox
	logger    *slog.Logger
	metrics   *metrics.BookingMetrics
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	timeout   time.Duration
	now       func() time.Time
}

type Config struct {
	Interval    time.Duration
	BatchSize   int
	Backoff     time.Duration
	TaskTimeout time.Duration
}

func New(q db.Querier, tasks Tasks, appts Appointments, mirror Mirror, outboxRepo Outbox, logger *slog.Logger, m *metrics.BookingMetrics, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 15 * time.Second
	}
	return &Worker{
		db:        q,
		tasks:     tasks,
		appts:     appts,
		mirror:    mirror,
		outbox:    outboxRepo,
		logger:    logger,
		metrics:   m,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		timeout:   cfg.TaskTimeout,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("calendar sync batch failed", "err", err)
			}
		}
	}
}

// ProcessBatch runs the due tasks and returns how many it attempted. Rows
// stay locked until the batch commits so parallel workers skip them.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	var n int
	err := db.InTx(ctx, w.db, func(tx pgx.Tx) error {
		tasks, err := w.tasks.FetchDue(ctx, tx, w.batchSize)
		if err != nil {
			return err
		}
		n = len(tasks)

		var done []int64
		for _, task := range tasks {
			taskCtx, span := otelx.StartDrain(ctx, task.Trace, "calendar.sync.task", task.NextRunAt,
				attribute.String("calendar.sync.op", string(task.Op)),
				attribute.Int("calendar.sync.attempt", task.Attempts+1),
			)
			err := w.run(taskCtx, task)
			if err == nil {
				span.End()
				done = append(done, task.ID)
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.ReasonOf(err))
			err = w.fail(taskCtx, tx, task, err)
			span.End()
			if err != nil {
				return err
			}
		}
		return w.tasks.MarkDone(ctx, tx, done)
	})
	return n, err
}

func (w *Worker) run(ctx context.Context, task storage.SyncTask) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	var err error
	switch task.Op {
	case model.SyncUpsert:
		var appt model.Appointment
		appt, err = w.appts.Get(ctx, task.AppointmentID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		if err == nil {
			_, err = w.mirror.UpsertEvent(ctx, appt)
		}
	case model.SyncDelete:
		err = w.mirror.RemoveEvent(ctx, task.AppointmentID)
	default:
		w.logger.Warn("unknown sync op", "task_id", task.ID, "op", task.Op)
		return nil
	}

	switch {
	case err == nil:
		w.metrics.ObserveSync(string(task.Op), "ok")
		return nil
	case errors.Is(err, calendarsync.ErrNotConnected):
		// Nothing to mirror into; a later connect plus resync catches up.
		w.metrics.ObserveSync(string(task.Op), "not_connected")
		return nil
	default:
		return err
	}
}

func (w *Worker) fail(ctx context.Context, tx pgx.Tx, task storage.SyncTask, cause error) error {
	attempts := task.Attempts + 1
	reason := apperr.ReasonOf(cause)
	if err := w.tasks.MarkFailed(ctx, tx, task.ID, attempts, task.MaxAttempts, w.now().UTC().Add(w.delay(attempts)), reason); err != nil {
		return err
	}
	if attempts < task.MaxAttempts {
		w.metrics.ObserveSync(string(task.Op), "retry")
		w.logger.Warn("calendar sync retry scheduled", "task_id", task.ID, "appointment_id", task.AppointmentID, "attempts", attempts, "err", cause)
		return nil
	}

	w.metrics.ObserveSync(string(task.Op), "dead")
	w.logger.Error("calendar sync gave up", "task_id", task.ID, "appointment_id", task.AppointmentID, "attempts", attempts, "err", cause)
	evt, err := outbox.NewEvent(outbox.TypeCalendarSyncDLQ, task.AppointmentID, map[string]any{
		"task_id":        task.ID,
		"appointment_id": task.AppointmentID,
		"op":             string(task.Op),
		"attempts":       attempts,
		"error_reason":   reason,
		"failed_at":      w.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, evt)
}

// delay doubles per attempt from the base backoff, capped at an hour.
func (w *Worker) delay(attempts int) time.Duration {
	d := w.backoff
	for i := 1; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

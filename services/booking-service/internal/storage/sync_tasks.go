package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// SyncTask is a pending calendar operation for one appointment. At most one
// pending task exists per appointment; a newer status change replaces its op.
type SyncTask struct {
	ID            int64
	AppointmentID string
	Op            model.SyncOp
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
	LastError     string
	Trace         otelx.QueuedTrace
}

type SyncTaskRepository struct {
	db db.Querier
}

func NewSyncTaskRepository(q db.Querier) *SyncTaskRepository {
	return &SyncTaskRepository{db: q}
}

func (r *SyncTaskRepository) Enqueue(ctx context.Context, tx db.Executor, appointmentID string, op model.SyncOp, runAt time.Time) (int64, error) {
	trace := otelx.CaptureTrace(ctx)
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO calendar_sync_tasks (appointment_id, op, next_run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) WHERE status = 'pending'
		DO UPDATE SET op = EXCLUDED.op,
			attempts = 0,
			next_run_at = EXCLUDED.next_run_at,
			last_error = '',
			traceparent = EXCLUDED.traceparent,
			tracestate = EXCLUDED.tracestate,
			updated_at = now()
		RETURNING id
	`, appointmentID, string(op), runAt, trace.Traceparent, trace.Tracestate).Scan(&id)
	return id, err
}

func (r *SyncTaskRepository) FetchDue(ctx context.Context, tx db.Executor, limit int) ([]SyncTask, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, appointment_id::text, op, attempts, max_attempts, next_run_at, last_error, traceparent, tracestate
		FROM calendar_sync_tasks
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []SyncTask
	for rows.Next() {
		var t SyncTask
		var op string
		if err := rows.Scan(&t.ID, &t.AppointmentID, &op, &t.Attempts, &t.MaxAttempts, &t.NextRunAt, &t.LastError, &t.Trace.Traceparent, &t.Trace.Tracestate); err != nil {
			return nil, err
		}
		t.Op = model.SyncOp(op)
		tasks = append(tasks, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tasks, nil
}

func (r *SyncTaskRepository) MarkDone(ctx context.Context, tx db.Executor, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_tasks
		SET status = 'done', updated_at = now()
		WHERE id = ANY($1) AND status = 'pending'
	`, ids)
	return err
}

func (r *SyncTaskRepository) MarkFailed(ctx context.Context, tx db.Executor, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE calendar_sync_tasks
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

// Resolve closes a task the request path already carried out.
func (r *SyncTaskRepository) Resolve(ctx context.Context, id int64) error {
	return r.MarkDone(ctx, r.db, []int64{id})
}

// Defer records why the inline attempt failed and makes the task due now.
func (r *SyncTaskRepository) Defer(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE calendar_sync_tasks
		SET last_error = $2,
		    next_run_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, lastError)
	return err
}

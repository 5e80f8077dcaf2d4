// Package inbox tracks the outcome of every consumed event so a redelivery
// of a completed event is skipped while a failed one gets another run.
package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
)

// DefaultLease is how long a claim holds before another consumer may take
// the event over from one that died mid-handle.
const DefaultLease = 5 * time.Minute

var ErrMissingEventID = errors.New("inbox: event has no id")

type Repository struct {
	db    db.Executor
	lease time.Duration
	now   func() time.Time
}

func NewRepository(q db.Executor) *Repository {
	return &Repository{db: q, lease: DefaultLease, now: time.Now}
}

// Claim takes an event for handling. It reports false when the event
// already completed or another claim on it is still within its lease.
func (r *Repository) Claim(ctx context.Context, meta kafkax.EventMeta) (bool, error) {
	if meta.EventID == "" {
		return false, ErrMissingEventID
	}
	var attempts int
	err := r.db.QueryRow(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE
		SET status = 'processing',
		    attempts = inbox_events.attempts + 1,
		    last_error = '',
		    claimed_at = now()
		WHERE inbox_events.status = 'failed'
		   OR (inbox_events.status = 'processing' AND inbox_events.claimed_at < $3)
		RETURNING attempts
	`, meta.EventID, meta.EventType, r.now().UTC().Add(-r.lease)).Scan(&attempts)
	if db.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) Complete(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE inbox_events
		SET status = 'done', processed_at = now()
		WHERE event_id = $1
	`, eventID)
	return err
}

// Fail releases the claim so the next delivery of eventID runs again.
func (r *Repository) Fail(ctx context.Context, eventID string, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE inbox_events
		SET status = 'failed', last_error = $2
		WHERE event_id = $1
	`, eventID, reason)
	return err
}

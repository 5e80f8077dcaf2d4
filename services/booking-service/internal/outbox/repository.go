package outbox

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Repository is stateless; every call runs on the caller's transaction, so
// an event commits or rolls back together with the booking change it
// describes.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert queues evt along with the trace of the request that caused it.
func (r *Repository) Insert(ctx context.Context, tx db.Executor, evt Event) error {
	if err := evt.validate(); err != nil {
		return err
	}
	trace := otelx.CaptureTrace(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, trace.Traceparent, trace.Tracestate)
	return err
}

// Record is a queued event as read back by the publisher.
type Record struct {
	ID        int64
	EventID   string
	Event     Event
	Trace     otelx.QueuedTrace
	CreatedAt time.Time
}

// Message renders the record for Kafka: topic from the event type, key from
// the aggregate id, event metadata and the enqueuing trace as headers.
func (rcd Record) Message(ctx context.Context) kafka.Message {
	meta := kafkax.EventMeta{EventID: rcd.EventID, EventType: rcd.Event.EventType}
	return kafka.Message{
		Topic:   rcd.Event.EventType,
		Key:     []byte(rcd.Event.AggregateID),
		Value:   rcd.Event.Payload,
		Headers: kafkax.InjectTraceHeaders(rcd.Trace.Resume(ctx), meta.Headers()),
	}
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx db.Executor, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		evt := &rcd.Event
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &evt.Payload,
			&rcd.Trace.Traceparent, &rcd.Trace.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx db.Executor, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// PurgePublished deletes events published before cutoff and returns how
// many went. Unpublished rows are never touched.
func (r *Repository) PurgePublished(ctx context.Context, tx db.Executor, cutoff time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published_at IS NOT NULL AND published_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topic names. The Kafka topic equals the event type.
const (
	TypeAppointmentBooked        = "booking.appointment.booked.v1"
	TypeAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	TypeCalendarSyncDLQ          = "booking.calendar.sync.dlq.v1"
	TypeCalendarResyncRequested  = "booking.calendar.resync.requested.v1"
)

// Aggregates. The aggregate id is the Kafka message key, so every event of
// one appointment lands on one partition in commit order.
const (
	AggregateAppointment = "appointment"
	AggregateCalendar    = "calendar"
)

var aggregateOf = map[string]string{
	TypeAppointmentBooked:        AggregateAppointment,
	TypeAppointmentStatusChanged: AggregateAppointment,
	TypeCalendarSyncDLQ:          AggregateAppointment,
	TypeCalendarResyncRequested:  AggregateCalendar,
}

var ErrUnknownEventType = errors.New("unknown event type")

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload into an Event of eventType about aggregateID.
// The aggregate type follows from the event type.
func NewEvent(eventType, aggregateID string, payload any) (Event, error) {
	aggregate, ok := aggregateOf[eventType]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	evt := Event{
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}
	return evt, evt.validate()
}

func (e Event) validate() error {
	aggregate, ok := aggregateOf[e.EventType]
	switch {
	case !ok:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	case e.AggregateType != aggregate:
		return fmt.Errorf("%s belongs to aggregate %s, not %s", e.EventType, aggregate, e.AggregateType)
	case e.AggregateID == "":
		return fmt.Errorf("%s: empty aggregate id", e.EventType)
	case !json.Valid(e.Payload):
		return fmt.Errorf("%s: payload is not JSON", e.EventType)
	}
	return nil
}

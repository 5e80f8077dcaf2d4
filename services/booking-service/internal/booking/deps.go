package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/slotcache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
)

// Clock is the only source of "now" for booking decisions.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)

type Directory interface {
	Lookup(ctx context.Context, serviceID string) (catalog.Service, error)
}

type Policy interface {
	Week(ctx context.Context) (policy.WeeklyTemplate, int64, error)
}

type TimeOff interface {
	ForDay(ctx context.Context, day time.Time) ([]timeoff.Interval, error)
}

type Ledger interface {
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	ActiveOnDate(ctx context.Context, date time.Time) ([]model.Appointment, error)
	UpdateStatus(ctx context.Context, change model.StatusChange) (storage.Transition, error)
	ListByStatus(ctx context.Context, status model.Status, afterID string, limit int) ([]model.Appointment, error)
}

// Mirror is the external calendar.
type Mirror interface {
	UpsertEvent(ctx context.Context, appt model.Appointment) (string, error)
	RemoveEvent(ctx context.Context, appointmentID string) error
}

// Journal resolves the sync task a status change left behind.
type Journal interface {
	Resolve(ctx context.Context, taskID int64) error
	Defer(ctx context.Context, taskID int64, reason string) error
}

type SlotCache interface {
	Resolve(ctx context.Context, k slotcache.Key) (slotcache.Entry, error)
	Get(ctx context.Context, e slotcache.Entry) ([]int, bool, error)
	Put(ctx context.Context, e slotcache.Entry, minutes []int) error
	Invalidate(ctx context.Context, date time.Time) error
}

type Events interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

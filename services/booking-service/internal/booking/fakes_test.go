package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timeoff"
)

type fakeDirectory map[string]catalog.Service

func (d fakeDirectory) Lookup(_ context.Context, id string) (catalog.Service, error) {
	s, ok := d[id]
	if !ok {
		return catalog.Service{}, apperr.Validation("unknown_service", "service does not exist")
	}
	return s, nil
}

type fakePolicy struct {
	week    policy.WeeklyTemplate
	version int64
}

func (p *fakePolicy) Week(context.Context) (policy.WeeklyTemplate, int64, error) {
	return p.week, p.version, nil
}

type fakeTimeOff []timeoff.Interval

func (f fakeTimeOff) ForDay(context.Context, time.Time) ([]timeoff.Interval, error) {
	return f, nil
}

// memLedger enforces the same overlap rule as the database constraint.
type memLedger struct {
	mu      sync.Mutex
	appts   map[string]model.Appointment
	history map[string][]model.Status
	nextTask int64
}

func newMemLedger() *memLedger {
	return &memLedger{appts: map[string]model.Appointment{}, history: map[string][]model.Status{}}
}

func (l *memLedger) Create(_ context.Context, a model.Appointment) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := a.StartMinute + a.DurationMinutes + a.BufferMinutes
	for _, o := range l.appts {
		if o.Status == model.StatusCancelled || !o.Date.Equal(a.Date) {
			continue
		}
		oEnd := o.StartMinute + o.DurationMinutes + o.BufferMinutes
		if a.StartMinute < oEnd && o.StartMinute < end {
			return model.Appointment{}, apperr.Conflict("slot_taken", "taken")
		}
	}
	a.ID = uuid.NewString()
	a.Status = model.StatusPending
	l.appts[a.ID] = a
	l.history[a.ID] = []model.Status{model.StatusPending}
	return a, nil
}

func (l *memLedger) Get(_ context.Context, id string) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.appts[id]
	if !ok {
		return model.Appointment{}, apperr.NotFound("appointment_not_found", "appointment not found")
	}
	return a, nil
}

func (l *memLedger) ActiveOnDate(_ context.Context, date time.Time) ([]model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Appointment
	for _, a := range l.appts {
		if a.Status != model.StatusCancelled && a.Date.Equal(date) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *memLedger) UpdateStatus(_ context.Context, c model.StatusChange) (storage.Transition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.appts[c.AppointmentID]
	if !ok {
		return storage.Transition{}, apperr.NotFound("appointment_not_found", "appointment not found")
	}
	if a.Status != c.From {
		return storage.Transition{}, apperr.InvalidTransition(string(a.Status), string(c.To))
	}
	a.Status = c.To
	l.appts[a.ID] = a
	l.history[a.ID] = append(l.history[a.ID], c.To)
	tr := storage.Transition{Appointment: a}
	if c.Sync != model.SyncNone {
		l.nextTask++
		tr.SyncTaskID = l.nextTask
	}
	return tr, nil
}

func (l *memLedger) ListByStatus(_ context.Context, status model.Status, after string, limit int) ([]model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Appointment
	for _, a := range l.appts {
		if a.Status == status && a.ID > after {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) seedApproved(n int, date time.Time) []string {
	var ids []string
	for i := 0; i < n; i++ {
		a := model.Appointment{
			ID:              uuid.NewString(),
			Date:            date,
			StartMinute:     i * 30,
			DurationMinutes: 30,
			Status:          model.StatusApproved,
		}
		l.appts[a.ID] = a
		ids = append(ids, a.ID)
	}
	return ids
}

type fakeMirror struct {
	mu       sync.Mutex
	upserted []string
	removed  []string
	err      error
	failFor  map[string]error
	// started and release let tests hold items in flight.
	started chan string
	release chan struct{}
	ctxErrs []error
}

func (m *fakeMirror) UpsertEvent(ctx context.Context, a model.Appointment) (string, error) {
	if m.started != nil {
		m.started <- a.ID
	}
	if m.release != nil {
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if err := m.failFor[a.ID]; err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	m.upserted = append(m.upserted, a.ID)
	return "bk" + a.ID, nil
}

func (m *fakeMirror) RemoveEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, id)
	return nil
}

type fakeJournal struct {
	mu       sync.Mutex
	resolved []int64
	deferred map[int64]string
}

func (j *fakeJournal) Resolve(_ context.Context, id int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resolved = append(j.resolved, id)
	return nil
}

func (j *fakeJournal) Defer(_ context.Context, id int64, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.deferred == nil {
		j.deferred = map[int64]string{}
	}
	j.deferred[id] = reason
	return nil
}

type fakeEvents struct {
	events []outbox.Event
	err    error
}

func (f *fakeEvents) Emit(_ context.Context, evt outbox.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, evt)
	return nil
}

var errBoom = errors.New("boom")

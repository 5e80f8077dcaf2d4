package booking

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/slotcache"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// Sunday noon; the Monday below is tomorrow.
	now     = time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC)
	monday  = time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)

	haircutID = uuid.NewString()
	haircut   = catalog.Service{ID: haircutID, Name: "Haircut", DurationMinutes: 30, Price: decimal.RequireFromString("25.00"), Active: true}
)

type fixture struct {
	svc     *Service
	ledger  *memLedger
	mirror  *fakeMirror
	journal *fakeJournal
	events  *fakeEvents
}

func newFixture(t *testing.T, cfg Config, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		ledger:  newMemLedger(),
		mirror:  &fakeMirror{},
		journal: &fakeJournal{},
		events:  &fakeEvents{},
	}
	deps := Deps{
		Directory: fakeDirectory{haircutID: haircut},
		Policy:    &fakePolicy{week: policy.DefaultWeek(), version: 1},
		TimeOff:   fakeTimeOff{},
		Ledger:    f.ledger,
		Mirror:    f.mirror,
		Journal:   f.journal,
		Events:    f.events,
		Clock:     ClockFunc(func() time.Time { return now }),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(&deps)
	}
	if cfg.StepMinutes == 0 {
		cfg.StepMinutes = 30
	}
	f.svc = New(deps, cfg)
	return f
}

func clock(slots []time.Time) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Format(model.TimeFormat)
	}
	return out
}

func TestRequestSlotsSkipsBookedTime(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledger.appts["a"] = model.Appointment{ID: "a", Date: monday, StartMinute: 600, DurationMinutes: 30, Status: model.StatusApproved}

	slots, err := f.svc.RequestSlots(context.Background(), monday, haircutID)
	require.NoError(t, err)
	got := clock(slots)
	assert.NotContains(t, got, "10:00")
	for _, want := range []string{"09:00", "09:30", "10:30", "11:00"} {
		assert.Contains(t, got, want)
	}
}

func TestRequestSlotsHonoursStoredBuffer(t *testing.T) {
	// Booked while the buffer was 30 minutes; it has since been set to zero.
	f := newFixture(t, Config{})
	f.ledger.appts["a"] = model.Appointment{ID: "a", Date: monday, StartMinute: 600, DurationMinutes: 30, BufferMinutes: 30, Status: model.StatusApproved}

	slots, err := f.svc.RequestSlots(context.Background(), monday, haircutID)
	require.NoError(t, err)
	got := clock(slots)
	for _, taken := range []string{"09:30", "10:00", "10:30"} {
		assert.NotContains(t, got, taken)
	}
	assert.Contains(t, got, "09:00")
	assert.Contains(t, got, "11:00")

	_, err = f.svc.Book(context.Background(), BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 630, CustomerRef: "c1"})
	assert.Equal(t, "slot_taken", apperr.ReasonOf(err))
}

func TestRequestSlotsAllDayTimeOff(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.TimeOff = fakeTimeOff{{AllDay: true, Start: tuesday.Add(8 * time.Hour), End: tuesday.Add(8 * time.Hour)}}
	})
	slots, err := f.svc.RequestSlots(context.Background(), tuesday, haircutID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestRequestSlotsClosedDay(t *testing.T) {
	f := newFixture(t, Config{})
	saturday := monday.AddDate(0, 0, 5)
	slots, err := f.svc.RequestSlots(context.Background(), saturday, haircutID)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestRequestSlotsValidation(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.RequestSlots(context.Background(), monday.AddDate(0, 0, -7), haircutID)
	assert.Equal(t, "date_in_past", apperr.ReasonOf(err))

	_, err = f.svc.RequestSlots(context.Background(), monday, uuid.NewString())
	assert.Equal(t, "unknown_service", apperr.ReasonOf(err))
}

func TestRequestSlotsCacheInvalidatedByBooking(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	f := newFixture(t, Config{}, func(d *Deps) { d.Cache = slotcache.New(rdb, time.Minute, "") })
	ctx := context.Background()

	first, err := f.svc.RequestSlots(ctx, monday, haircutID)
	require.NoError(t, err)
	require.Contains(t, clock(first), "09:00")

	_, err = f.svc.Book(ctx, BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 540, CustomerRef: "c1"})
	require.NoError(t, err)

	second, err := f.svc.RequestSlots(ctx, monday, haircutID)
	require.NoError(t, err)
	assert.NotContains(t, clock(second), "09:00")
	assert.Len(t, second, len(first)-1)
}

func TestBookCopiesServiceTerms(t *testing.T) {
	f := newFixture(t, Config{BufferMinutes: 10})
	appt, err := f.svc.Book(context.Background(), BookRequest{
		ServiceID:     haircutID,
		Date:          monday,
		StartMinute:   540,
		CustomerEmail: "c@example.com",
		Note:          "  first visit ",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, appt.Status)
	assert.Equal(t, 30, appt.DurationMinutes)
	assert.Equal(t, 10, appt.BufferMinutes)
	assert.Equal(t, "first visit", appt.Note)
	assert.True(t, appt.Price.Equal(haircut.Price))
}

func TestBookRejections(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.svc.Book(ctx, BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 600, CustomerRef: "c1"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		req    BookRequest
		reason string
	}{
		{"taken", BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 600, CustomerRef: "c2"}, "slot_taken"},
		{"outside hours", BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 6 * 60, CustomerRef: "c2"}, "slot_unavailable"},
		{"off grid", BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 545, CustomerRef: "c2"}, "slot_unavailable"},
		{"no customer", BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 660}, "invalid_request"},
		{"bad email", BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 660, CustomerEmail: "nope"}, "invalid_request"},
		{"past", BookRequest{ServiceID: haircutID, Date: now, StartMinute: 600, CustomerRef: "c2"}, "time_in_past"},
		{"unknown service", BookRequest{ServiceID: "x", Date: monday, StartMinute: 660, CustomerRef: "c2"}, "unknown_service"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Book(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.reason, apperr.ReasonOf(err))
		})
	}
	_, err = f.svc.Book(ctx, cases[0].req)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestConcurrentBookOneWinner(t *testing.T) {
	f := newFixture(t, Config{})
	const n = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), BookRequest{
				ServiceID:   haircutID,
				Date:        monday,
				StartMinute: 600,
				CustomerRef: uuid.NewString(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func book(t *testing.T, f *fixture, minute int) model.Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), BookRequest{ServiceID: haircutID, Date: monday, StartMinute: minute, CustomerRef: "c"})
	require.NoError(t, err)
	return appt
}

func TestApproveMirrorsAndResolvesJournal(t *testing.T) {
	f := newFixture(t, Config{})
	appt := book(t, f, 600)

	res, err := f.svc.SetStatus(context.Background(), appt.ID, model.StatusApproved, "admin")
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Equal(t, model.StatusApproved, res.Appointment.Status)
	assert.Equal(t, []string{appt.ID}, f.mirror.upserted)
	assert.Equal(t, []int64{1}, f.journal.resolved)
}

func TestApproveWhileDisconnected(t *testing.T) {
	f := newFixture(t, Config{})
	f.mirror.err = calendarsync.ErrNotConnected
	appt := book(t, f, 600)

	res, err := f.svc.SetStatus(context.Background(), appt.ID, model.StatusApproved, "admin")
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
	assert.Empty(t, f.mirror.upserted)
	assert.Empty(t, f.journal.deferred)
	assert.Equal(t, []int64{1}, f.journal.resolved)
}

func TestSyncFailureIsAWarning(t *testing.T) {
	f := newFixture(t, Config{})
	f.mirror.err = apperr.ExternalSync("calendar_write_failed", errBoom)
	appt := book(t, f, 600)

	res, err := f.svc.SetStatus(context.Background(), appt.ID, model.StatusApproved, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, res.Appointment.Status)
	assert.Contains(t, res.Warning, "calendar_write_failed")
	assert.Equal(t, "calendar_write_failed", f.journal.deferred[1])

	stored, err := f.ledger.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	appt := book(t, f, 600)

	_, err := f.svc.SetStatus(ctx, appt.ID, model.StatusCompleted, "admin")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.SetStatus(ctx, appt.ID, model.StatusCancelled, "admin")
	require.NoError(t, err)
	for _, to := range []model.Status{model.StatusPending, model.StatusApproved, model.StatusCompleted, model.StatusCancelled} {
		_, err = f.svc.SetStatus(ctx, appt.ID, to, "admin")
		require.ErrorIs(t, err, apperr.ErrInvalidTransition, "cancelled -> %s", to)
	}
	assert.Equal(t, []model.Status{model.StatusPending, model.StatusCancelled}, f.ledger.history[appt.ID])

	_, err = f.svc.SetStatus(ctx, uuid.NewString(), model.StatusApproved, "admin")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCancelFreesSlotAndRemovesEvent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	appt := book(t, f, 600)
	_, err := f.svc.SetStatus(ctx, appt.ID, model.StatusApproved, "admin")
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, appt.ID, model.StatusCancelled, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{appt.ID}, f.mirror.removed)

	again := book(t, f, 600)
	assert.NotEqual(t, appt.ID, again.ID)
}

func TestPendingCancelDoesNotTouchCalendar(t *testing.T) {
	f := newFixture(t, Config{})
	appt := book(t, f, 600)
	_, err := f.svc.SetStatus(context.Background(), appt.ID, model.StatusCancelled, "admin")
	require.NoError(t, err)
	assert.Empty(t, f.mirror.removed)
	assert.Empty(t, f.journal.resolved)
}

func TestCompletedEventPolicy(t *testing.T) {
	for _, keep := range []bool{true, false} {
		f := newFixture(t, Config{KeepCompletedEvents: keep})
		ctx := context.Background()
		appt := book(t, f, 600)
		_, err := f.svc.SetStatus(ctx, appt.ID, model.StatusApproved, "admin")
		require.NoError(t, err)
		_, err = f.svc.SetStatus(ctx, appt.ID, model.StatusCompleted, "admin")
		require.NoError(t, err)
		if keep {
			assert.Empty(t, f.mirror.removed)
		} else {
			assert.Equal(t, []string{appt.ID}, f.mirror.removed)
		}
	}
}

func TestNoMirrorSkipsSync(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) { d.Mirror = nil; d.Journal = nil })
	appt := book(t, f, 600)
	res, err := f.svc.SetStatus(context.Background(), appt.ID, model.StatusApproved, "admin")
	require.NoError(t, err)
	assert.Empty(t, res.Warning)
}

func TestTimeOffBlocksBooking(t *testing.T) {
	f := newFixture(t, Config{}, func(d *Deps) {
		d.TimeOff = fakeTimeOff{{Start: monday.Add(10 * time.Hour), End: monday.Add(11 * time.Hour)}}
	})
	_, err := f.svc.Book(context.Background(), BookRequest{ServiceID: haircutID, Date: monday, StartMinute: 630, CustomerRef: "c"})
	assert.Equal(t, "slot_unavailable", apperr.ReasonOf(err))
}

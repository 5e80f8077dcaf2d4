package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resyncType = "booking.calendar.resync.requested.v1"

func newRepo(t *testing.T) (*Repository, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2026, 1, 25, 12, 0, 0, 0, time.UTC)
	repo := NewRepository(mock)
	repo.now = func() time.Time { return now }
	return repo, mock, now.Add(-DefaultLease)
}

func TestClaim(t *testing.T) {
	repo, mock, cutoff := newRepo(t)
	meta := kafkax.EventMeta{EventID: "e-1", EventType: resyncType}

	mock.ExpectQuery("INSERT INTO inbox_events").
		WithArgs("e-1", resyncType, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO inbox_events").
		WithArgs("e-1", resyncType, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}))
	mock.ExpectQuery("INSERT INTO inbox_events").
		WithArgs("e-2", "x", cutoff).
		WillReturnError(errors.New("connection reset"))

	first, err := repo.Claim(context.Background(), meta)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := repo.Claim(context.Background(), meta)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = repo.Claim(context.Background(), kafkax.EventMeta{EventID: "e-2", EventType: "x"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRequiresEventID(t *testing.T) {
	repo, mock, _ := newRepo(t)
	_, err := repo.Claim(context.Background(), kafkax.EventMeta{EventType: resyncType})
	assert.ErrorIs(t, err, ErrMissingEventID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailThenReclaim(t *testing.T) {
	repo, mock, cutoff := newRepo(t)
	meta := kafkax.EventMeta{EventID: "e-3", EventType: resyncType}

	mock.ExpectQuery("INSERT INTO inbox_events").
		WithArgs("e-3", resyncType, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(1))
	mock.ExpectExec("SET status = 'failed'").
		WithArgs("e-3", "calendar_unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO inbox_events").
		WithArgs("e-3", resyncType, cutoff).
		WillReturnRows(pgxmock.NewRows([]string{"attempts"}).AddRow(2))
	mock.ExpectExec("SET status = 'done'").
		WithArgs("e-3").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := repo.Claim(context.Background(), meta)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Fail(context.Background(), "e-3", "calendar_unavailable"))

	ok, err = repo.Claim(context.Background(), meta)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Complete(context.Background(), "e-3"))
	require.NoError(t, mock.ExpectationsWereMet())
}

package storage

import (
	"context"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestMarkFailedMovesToFailedAtMax(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewSyncTaskRepository(mock)
	next := time.Now()

	mock.ExpectExec("UPDATE calendar_sync_tasks").
		WithArgs(int64(1), 2, "pending", next, "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE calendar_sync_tasks").
		WithArgs(int64(1), 5, "failed", next, "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.MarkFailed(context.Background(), mock, 1, 2, 5, next, "boom"))
	require.NoError(t, repo.MarkFailed(context.Background(), mock, 1, 5, 5, next, "boom"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAndDefer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := NewSyncTaskRepository(mock)

	mock.ExpectExec("SET status = 'done'").
		WithArgs([]int64{9}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("SET last_error = \\$2").
		WithArgs(int64(10), "calendar unavailable").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Resolve(context.Background(), 9))
	require.NoError(t, repo.Defer(context.Background(), 10, "calendar unavailable"))
	require.NoError(t, mock.ExpectationsWereMet())
}

package timeoff

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
)

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

func (s *PostgresStore) Insert(ctx context.Context, iv Interval) (Interval, error) {
	iv.ID = uuid.NewString()
	err := s.db.QueryRow(ctx, `
		INSERT INTO time_off (id, start_time, end_time, all_day, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, iv.ID, iv.Start, iv.End, iv.AllDay, iv.Reason).Scan(&iv.CreatedAt)
	if err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM time_off WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListBetween(ctx context.Context, from, to time.Time) ([]Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, start_time, end_time, all_day, COALESCE(reason, ''), created_at
		FROM time_off
		WHERE end_time >= $1
			AND start_time < $2
		ORDER BY start_time ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.ID, &iv.Start, &iv.End, &iv.AllDay, &iv.Reason, &iv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

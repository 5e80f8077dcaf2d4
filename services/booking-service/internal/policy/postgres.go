package policy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
)

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

// LoadWeek reads version and rules in one statement so the pair is taken from
// the same snapshot.
func (s *PostgresStore) LoadWeek(ctx context.Context) (WeeklyTemplate, int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.version, r.weekday, r.is_open, r.start_minute, r.end_minute
		FROM availability_policy p
		JOIN work_day_rules r ON true
		WHERE p.id = 1
		ORDER BY r.weekday
	`)
	if err != nil {
		return WeeklyTemplate{}, 0, err
	}
	defer rows.Close()

	week := DefaultWeek()
	var version int64
	for rows.Next() {
		var (
			wd               int
			isOpen           bool
			startMin, endMin int
		)
		if err := rows.Scan(&version, &wd, &isOpen, &startMin, &endMin); err != nil {
			return WeeklyTemplate{}, 0, err
		}
		if wd < 0 || wd > 6 {
			continue
		}
		rule := WorkDayRule{Weekday: time.Weekday(wd)}
		if isOpen {
			rule.Window = Open(startMin, endMin)
		}
		week[wd] = rule
	}
	if err := rows.Err(); err != nil {
		return WeeklyTemplate{}, 0, err
	}
	return week, version, nil
}

// SaveWeek bumps the version guarded by expectedVersion and rewrites all seven
// rules in the same transaction.
func (s *PostgresStore) SaveWeek(ctx context.Context, week WeeklyTemplate, expectedVersion int64) (int64, error) {
	var version int64
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_policy (id, version)
			VALUES (1, 0)
			ON CONFLICT (id) DO NOTHING
		`); err != nil {
			return err
		}

		err := tx.QueryRow(ctx, `
			UPDATE availability_policy
			SET version = version + 1,
				updated_at = now()
			WHERE id = 1 AND version = $1
			RETURNING version
		`, expectedVersion).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleVersion
		}
		if err != nil {
			return err
		}

		for _, rule := range week {
			if _, err := tx.Exec(ctx, `
				INSERT INTO work_day_rules (weekday, is_open, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (weekday) DO UPDATE
				SET is_open = EXCLUDED.is_open,
					start_minute = EXCLUDED.start_minute,
					end_minute = EXCLUDED.end_minute
			`, int(rule.Weekday), rule.Open, rule.StartMinute, rule.EndMinute); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

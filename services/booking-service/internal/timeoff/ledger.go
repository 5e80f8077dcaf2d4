// Package timeoff keeps the blackout ranges that override the weekly
// template.
package timeoff

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
)

type Store interface {
	Insert(ctx context.Context, iv Interval) (Interval, error)
	Delete(ctx context.Context, id string) error
	// ListBetween may return more than the exact overlap; callers filter.
	ListBetween(ctx context.Context, from, to time.Time) ([]Interval, error)
}

type Ledger struct {
	store  Store
	loc    *time.Location
	logger *slog.Logger
}

func NewLedger(store Store, loc *time.Location, logger *slog.Logger) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, loc: loc, logger: logger}
}

func (l *Ledger) Add(ctx context.Context, iv Interval) (Interval, error) {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return Interval{}, apperr.Validation("invalid_time_off", "start and end are required")
	}
	if iv.End.Before(iv.Start) {
		return Interval{}, apperr.Validation("invalid_time_off", "end must not be before start")
	}
	iv.Reason = strings.TrimSpace(iv.Reason)
	if len(iv.Reason) > 500 {
		return Interval{}, apperr.Validation("invalid_time_off", "reason is too long")
	}

	saved, err := l.store.Insert(ctx, iv)
	if err != nil {
		return Interval{}, apperr.Storage("insert time off", err)
	}
	l.logger.Info("time off added", "time_off_id", saved.ID, "all_day", saved.AllDay,
		"start", saved.Start.Format(time.RFC3339), "end", saved.End.Format(time.RFC3339))
	return saved, nil
}

func (l *Ledger) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("invalid_time_off", "id is required")
	}
	if err := l.store.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("time_off_not_found", "time off not found")
		}
		return apperr.Storage("delete time off", err)
	}
	l.logger.Info("time off removed", "time_off_id", id)
	return nil
}

// Overlapping returns every interval blocking part of [from, to). The store
// query is widened by a day on each side so all-day intervals whose instants
// sit just outside the range are still considered.
func (l *Ledger) Overlapping(ctx context.Context, from, to time.Time) ([]Interval, error) {
	if !to.After(from) {
		return nil, apperr.Validation("invalid_range", "to must be after from")
	}
	candidates, err := l.store.ListBetween(ctx, from.Add(-24*time.Hour), to.Add(24*time.Hour))
	if err != nil {
		return nil, apperr.Storage("list time off", err)
	}
	return Overlapping(candidates, from, to, l.loc), nil
}

// ForDay returns the intervals touching the business-local civil date day.
func (l *Ledger) ForDay(ctx context.Context, day time.Time) ([]Interval, error) {
	y, m, d := day.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, l.loc)
	to := time.Date(y, m, d+1, 0, 0, 0, 0, l.loc)
	return l.Overlapping(ctx, from, to)
}

// Package policy owns the weekly work-hour template. The template is always
// written as a whole week under an optimistic version so readers never see a
// half-applied edit.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
)

// ErrStaleVersion is returned by a Store when the stored version moved on
// since the caller read it.
var ErrStaleVersion = errors.New("policy: stale version")

type Store interface {
	LoadWeek(ctx context.Context) (WeeklyTemplate, int64, error)
	SaveWeek(ctx context.Context, week WeeklyTemplate, expectedVersion int64) (int64, error)
}

type Policy struct {
	store   Store
	logger  *slog.Logger
	retries int
}

func New(store Store, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{store: store, logger: logger, retries: 3}
}

// Week returns the full template and the version it was read at.
func (p *Policy) Week(ctx context.Context) (WeeklyTemplate, int64, error) {
	week, version, err := p.store.LoadWeek(ctx)
	if err != nil {
		return WeeklyTemplate{}, 0, apperr.Storage("load weekly template", err)
	}
	return week, version, nil
}

func (p *Policy) Window(ctx context.Context, wd time.Weekday) (Window, error) {
	week, _, err := p.Week(ctx)
	if err != nil {
		return Window{}, err
	}
	return week.Window(wd), nil
}

// SetWindow replaces a single weekday and persists the whole week.
func (p *Policy) SetWindow(ctx context.Context, wd time.Weekday, w Window) (int64, error) {
	if wd < time.Sunday || wd > time.Saturday {
		return 0, apperr.Validation("invalid_weekday", "weekday must be 0-6")
	}
	if err := w.Validate(); err != nil {
		return 0, apperr.Validation("invalid_window", err.Error())
	}
	return p.save(ctx, func(current WeeklyTemplate) WeeklyTemplate {
		return current.With(wd, w)
	})
}

// ReplaceWeek stores week wholesale.
func (p *Policy) ReplaceWeek(ctx context.Context, week WeeklyTemplate) (int64, error) {
	if err := week.Validate(); err != nil {
		return 0, apperr.Validation("invalid_window", err.Error())
	}
	return p.save(ctx, func(WeeklyTemplate) WeeklyTemplate { return week })
}

func (p *Policy) save(ctx context.Context, edit func(WeeklyTemplate) WeeklyTemplate) (int64, error) {
	for attempt := 1; ; attempt++ {
		current, version, err := p.store.LoadWeek(ctx)
		if err != nil {
			return 0, apperr.Storage("load weekly template", err)
		}
		next, err := p.store.SaveWeek(ctx, edit(current), version)
		if err == nil {
			p.logger.Info("weekly template saved", "version", next)
			return next, nil
		}
		if !errors.Is(err, ErrStaleVersion) {
			return 0, apperr.Storage("save weekly template", err)
		}
		if attempt >= p.retries {
			return 0, apperr.Conflict("policy_edit_conflict", "weekly template changed concurrently, retry")
		}
		p.logger.Debug("weekly template changed underneath edit, retrying", "attempt", attempt)
	}
}

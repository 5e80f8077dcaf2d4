package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/calendarsync"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type ResyncFailure struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

type ResyncSummary struct {
	Succeeded int             `json:"succeeded"`
	Failed    []ResyncFailure `json:"failed"`
	Cancelled bool            `json:"cancelled"`
}

// ResyncAll mirrors every approved appointment. Cancelling ctx stops new
// items from starting; items already running finish on their own deadline.
func (s *Service) ResyncAll(ctx context.Context) (_ ResyncSummary, err error) {
	ctx, span := tracer.Start(ctx, "booking.ResyncAll")
	defer func() { endSpan(span, err) }()

	summary := ResyncSummary{Failed: []ResyncFailure{}}
	if s.Mirror == nil {
		return summary, apperr.ExternalSync("calendar_not_connected", calendarsync.ErrNotConnected)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.ResyncConcurrency)
	markCancelled := func() {
		mu.Lock()
		summary.Cancelled = true
		mu.Unlock()
	}

	after := ""
pages:
	for {
		if ctx.Err() != nil {
			markCancelled()
			break
		}
		page, err := s.Ledger.ListByStatus(ctx, model.StatusApproved, after, s.cfg.ResyncPageSize)
		if err != nil {
			if ctx.Err() != nil {
				markCancelled()
				break
			}
			_ = g.Wait()
			return summary, err
		}
		for _, appt := range page {
			if ctx.Err() != nil {
				markCancelled()
				break pages
			}
			g.Go(func() error {
				// g.Go may have blocked on the limit past cancellation.
				if ctx.Err() != nil {
					markCancelled()
					return nil
				}
				itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ResyncItemTimeout)
				defer cancel()
				_, err := s.Mirror.UpsertEvent(itemCtx, appt)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					reason := apperr.ReasonOf(err)
					if errors.Is(err, calendarsync.ErrNotConnected) {
						reason = "calendar_not_connected"
					}
					summary.Failed = append(summary.Failed, ResyncFailure{AppointmentID: appt.ID, Reason: reason})
					s.Metrics.ObserveResyncItem("failed")
					return nil
				}
				summary.Succeeded++
				s.Metrics.ObserveResyncItem("ok")
				return nil
			})
		}
		if len(page) < s.cfg.ResyncPageSize {
			break
		}
		after = page[len(page)-1].ID
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("resync.succeeded", summary.Succeeded),
		attribute.Int("resync.failed", len(summary.Failed)),
		attribute.Bool("resync.cancelled", summary.Cancelled),
	)
	s.Logger.Info("calendar resync finished",
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failed),
		"cancelled", summary.Cancelled,
	)
	return summary, nil
}

// RequestResync queues a resync for the background consumer.
func (s *Service) RequestResync(ctx context.Context, actor string) error {
	if s.Events == nil {
		return apperr.Validation("async_unavailable", "asynchronous resync is not configured")
	}
	evt, err := outbox.NewEvent(outbox.TypeCalendarResyncRequested, "resync", map[string]any{
		"requested_by": actor,
		"requested_at": s.Clock.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := s.Events.Emit(ctx, evt); err != nil {
		return apperr.Storage("queue resync", err)
	}
	return nil
}

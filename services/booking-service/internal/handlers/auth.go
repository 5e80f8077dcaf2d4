package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
)

type actorKey struct{}

// RequireRole admits requests carrying a valid bearer token with one of
// roles. The token subject becomes the actor recorded on status changes.
func RequireRole(v *auth.Verifier, logger *slog.Logger, roles ...string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := auth.BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, r, logger, apperr.Auth("missing_token", "a bearer token is required"))
				return
			}
			claims, err := v.Verify(raw)
			if err != nil {
				reason := "invalid_token"
				if !errors.Is(err, auth.ErrInvalidToken) {
					reason = "token_rejected"
				}
				writeError(w, r, logger, apperr.Auth(reason, "the bearer token is not valid"))
				return
			}
			if !claims.HasRole(roles...) {
				writeError(w, r, logger, apperr.Auth("forbidden", "this token may not manage the business"))
				return
			}
			actor := claims.Subject
			if actor == "" {
				actor = claims.Role
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

func actorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "unknown"
}

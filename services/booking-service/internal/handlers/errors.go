package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
)

type errorBody struct {
	Kind    string            `json:"kind"`
	Reason  string            `json:"reason"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError is the one place domain errors become HTTP responses.
// Storage messages are replaced so SQL never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Storage("unexpected", err)
	}

	status := statusFor(e)
	body := errorBody{Kind: string(e.Kind), Reason: e.Reason, Message: e.Message, Details: e.Details}
	switch e.Kind {
	case apperr.KindStorage:
		body.Message = "internal error"
		logger.Error("request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "op", e.Message, "err", err)
	case apperr.KindExternalSync:
		logger.Warn("calendar request failed", "request_id", httpx.RequestIDFromContext(r.Context()), "reason", e.Reason, "err", err)
	}
	httpx.WriteJSON(w, status, errorEnvelope{Error: body})
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuth:
		if e.Reason == "forbidden" {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindExternalSync:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(message string) error {
	return apperr.Validation("invalid_request", message)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{Kind: "validation", Reason: "method_not_allowed"}})
}

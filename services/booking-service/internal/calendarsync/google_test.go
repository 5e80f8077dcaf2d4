package calendarsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func TestGoogleEventsClassifiesResponses(t *testing.T) {
	var got calendar.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":409,"message":"The requested identifier already exists."}}`))
		case http.MethodPut:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Resource has been deleted"}}`))
		}
	}))
	defer srv.Close()

	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	g := NewGoogleEvents(loc, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	tok := &oauth2.Token{AccessToken: "at"}
	ev := Event{
		ID:            "bkabc",
		Summary:       "Appointment",
		Start:         time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 1, 26, 9, 30, 0, 0, time.UTC),
		AppointmentID: "abc",
	}

	err = g.Insert(context.Background(), tok, "primary", ev)
	assert.ErrorIs(t, err, ErrEventExists)
	assert.Equal(t, "bkabc", got.Id)
	assert.Equal(t, "Europe/Berlin", got.Start.TimeZone)
	assert.True(t, strings.HasPrefix(got.Start.DateTime, "2026-01-26T10:00:00"))
	assert.Equal(t, "abc", got.ExtendedProperties.Private["appointment_id"])

	assert.ErrorIs(t, g.Update(context.Background(), tok, "primary", ev), ErrTokenRejected)
	assert.ErrorIs(t, g.Delete(context.Background(), tok, "primary", "bkabc"), ErrEventGone)
}

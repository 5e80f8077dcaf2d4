// Package calendarsync mirrors approved appointments into the owner's
// Google Calendar and manages the OAuth credential that allows it.
package calendarsync

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrNotConnected means there is no calendar to mirror into. Callers treat
// it as nothing to do.
var ErrNotConnected = errors.New("calendarsync: calendar not connected")

type Config struct {
	OwnerRef   string
	CalendarID string
	Location   *time.Location
	StateTTL   time.Duration
	// RefreshTimeout bounds one token refresh.
	RefreshTimeout time.Duration
}

type Agent struct {
	creds  CredentialStore
	links  LinkStore
	events EventsAPI
	oauth  OAuthClient
	states StateStore
	cfg    Config
	logger *slog.Logger

	refresh singleflight.Group
	mu      sync.Mutex
	tokens  map[string]*oauth2.Token
}

func NewAgent(creds CredentialStore, links LinkStore, events EventsAPI, oauth OAuthClient, states StateStore, cfg Config, logger *slog.Logger) *Agent {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		creds:  creds,
		links:  links,
		events: events,
		oauth:  oauth,
		states: states,
		cfg:    cfg,
		logger: logger,
		tokens: map[string]*oauth2.Token{},
	}
}

// EventID derives the calendar event id for an appointment. Google accepts
// base32hex characters, which lowercase hex digits and the "bk" prefix are.
func EventID(appointmentID string) string {
	return "bk" + strings.ToLower(strings.ReplaceAll(appointmentID, "-", ""))
}

// UpsertEvent creates or updates the event mirroring appt and returns its
// id. Repeated calls converge on one event.
func (a *Agent) UpsertEvent(ctx context.Context, appt model.Appointment) (string, error) {
	token, cred, err := a.accessToken(ctx)
	if err != nil {
		return "", err
	}

	link, linked, err := a.links.GetLink(ctx, appt.ID)
	if err != nil {
		return "", apperr.Storage("load sync link", err)
	}
	if linked && link.CalendarID != cred.CalendarID {
		linked = false
	}

	ev := a.describe(appt)
	if linked {
		ev.ID = link.ExternalEventID
	}

	err = a.withToken(ctx, token, func(tok *oauth2.Token) error {
		if linked {
			err := a.events.Update(ctx, tok, cred.CalendarID, ev)
			if !errors.Is(err, ErrEventGone) {
				return err
			}
		}
		err := a.events.Insert(ctx, tok, cred.CalendarID, ev)
		if errors.Is(err, ErrEventExists) {
			return a.events.Update(ctx, tok, cred.CalendarID, ev)
		}
		return err
	})
	if err != nil {
		return "", apperr.ExternalSync("calendar_write_failed", err)
	}

	if err := a.links.SaveLink(ctx, SyncLink{AppointmentID: appt.ID, ExternalEventID: ev.ID, CalendarID: cred.CalendarID}); err != nil {
		return "", apperr.Storage("save sync link", err)
	}
	return ev.ID, nil
}

// RemoveEvent deletes the event mirroring appointmentID, if any, and drops
// the link.
func (a *Agent) RemoveEvent(ctx context.Context, appointmentID string) error {
	link, linked, err := a.links.GetLink(ctx, appointmentID)
	if err != nil {
		return apperr.Storage("load sync link", err)
	}
	if !linked {
		return nil
	}
	if err := a.DeleteEvent(ctx, link.CalendarID, link.ExternalEventID); err != nil {
		return err
	}
	if err := a.links.DeleteLink(ctx, appointmentID); err != nil {
		return apperr.Storage("delete sync link", err)
	}
	return nil
}

// DeleteEvent removes one event. An event that is already gone counts as
// deleted.
func (a *Agent) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	token, _, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	err = a.withToken(ctx, token, func(tok *oauth2.Token) error {
		err := a.events.Delete(ctx, tok, calendarID, eventID)
		if errors.Is(err, ErrEventGone) {
			return nil
		}
		return err
	})
	if err != nil {
		return apperr.ExternalSync("calendar_delete_failed", err)
	}
	return nil
}

// withToken runs fn and retries once with a fresh token if the API rejected
// the cached one.
func (a *Agent) withToken(ctx context.Context, token *oauth2.Token, fn func(*oauth2.Token) error) error {
	err := fn(token)
	if !errors.Is(err, ErrTokenRejected) {
		return err
	}
	a.forgetToken()
	token, _, err = a.accessToken(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

func (a *Agent) accessToken(ctx context.Context) (*oauth2.Token, Credential, error) {
	cred, err := a.creds.Load(ctx, a.cfg.OwnerRef)
	if err != nil {
		return nil, Credential{}, apperr.Storage("load calendar credential", err)
	}
	var (
		refreshToken Secret
		recovering   bool
	)
	switch st := cred.State.(type) {
	case Connected:
		refreshToken = st.RefreshToken
	case Errored:
		if st.NeedsReconnect() {
			return nil, cred, apperr.ExternalSync("calendar_credential_error", fmt.Errorf("credential needs reconnect: %s", st.Reason))
		}
		refreshToken = st.RefreshToken
		recovering = true
	default:
		return nil, cred, ErrNotConnected
	}

	if tok := a.cachedToken(); tok.Valid() {
		return tok, cred, nil
	}

	v, err, _ := a.refresh.Do(a.cfg.OwnerRef, func() (any, error) {
		if tok := a.cachedToken(); tok.Valid() {
			return tok, nil
		}
		// The refresh is shared, so it must outlive any single caller.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.RefreshTimeout)
		defer cancel()

		tok, err := a.oauth.Refresh(rctx, refreshToken.Reveal())
		if err != nil {
			reason := refreshFailureReason(err)
			a.logger.Warn("calendar token refresh failed",
				"owner_ref", a.cfg.OwnerRef,
				"reason", reason,
				"needs_reconnect", rejectedGrant(reason),
			)
			if merr := a.creds.MarkErrored(rctx, a.cfg.OwnerRef, reason); merr != nil {
				a.logger.Error("mark credential errored failed", "err", merr)
			}
			return nil, apperr.ExternalSync("token_refresh_failed", err)
		}

		rotated := tok.RefreshToken != "" && tok.RefreshToken != refreshToken.Reveal()
		if rotated {
			refreshToken = NewSecret(tok.RefreshToken)
		}
		if rotated || recovering {
			cred.State = Connected{RefreshToken: refreshToken}
			if err := a.creds.Save(rctx, cred); err != nil {
				return nil, apperr.Storage("persist calendar credential", err)
			}
			a.logger.Info("calendar credential refreshed", "owner_ref", a.cfg.OwnerRef, "rotated", rotated, "recovered", recovering)
		}
		a.storeToken(tok)
		return tok, nil
	})
	if err != nil {
		return nil, cred, err
	}
	return v.(*oauth2.Token), cred, nil
}

// refreshFailureReason prefers the provider's OAuth error code. Anything
// without one (timeouts, 5xx, transport errors) is a plain refresh_failed.
func refreshFailureReason(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return re.ErrorCode
	}
	return "refresh_failed"
}

func (a *Agent) cachedToken() *oauth2.Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens[a.cfg.OwnerRef]
}

func (a *Agent) storeToken(tok *oauth2.Token) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[a.cfg.OwnerRef] = tok
}

func (a *Agent) forgetToken() {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, a.cfg.OwnerRef)
}

func (a *Agent) describe(appt model.Appointment) Event {
	desc := "Booking " + appt.ID
	if appt.Note != "" {
		desc += "\n\n" + appt.Note
	}
	summary := "Appointment"
	if appt.CustomerEmail != "" {
		summary += ": " + appt.CustomerEmail
	}
	return Event{
		ID:            EventID(appt.ID),
		Summary:       summary,
		Description:   desc,
		Start:         appt.StartsAt(a.cfg.Location),
		End:           appt.EndsAt(a.cfg.Location),
		AppointmentID: appt.ID,
	}
}

// Connect starts the authorization code flow and returns the URL to send
// the owner to.
func (a *Agent) Connect(ctx context.Context) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)
	if err := a.states.Put(ctx, state, a.cfg.StateTTL); err != nil {
		return "", apperr.Storage("store oauth state", err)
	}
	return a.oauth.AuthCodeURL(state), nil
}

// Complete finishes the flow started by Connect.
func (a *Agent) Complete(ctx context.Context, state, code string) error {
	if state == "" || code == "" {
		return apperr.Validation("invalid_oauth_callback", "state and code are required")
	}
	ok, err := a.states.Consume(ctx, state)
	if err != nil {
		return apperr.Storage("consume oauth state", err)
	}
	if !ok {
		return apperr.Auth("invalid_oauth_state", "authorization state is unknown or expired")
	}

	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return apperr.ExternalSync("oauth_exchange_failed", err)
	}
	if tok.RefreshToken == "" {
		return apperr.ExternalSync("missing_refresh_token", errors.New("provider returned no refresh token"))
	}

	cred := Credential{
		OwnerRef:   a.cfg.OwnerRef,
		CalendarID: a.cfg.CalendarID,
		State:      Connected{RefreshToken: NewSecret(tok.RefreshToken)},
	}
	if err := a.creds.Save(ctx, cred); err != nil {
		return apperr.Storage("save calendar credential", err)
	}
	a.storeToken(tok)
	a.logger.Info("calendar connected", "owner_ref", a.cfg.OwnerRef, "calendar_id", a.cfg.CalendarID)
	return nil
}

// Disconnect forgets the credential and every link. Appointments are not
// touched and events already in the calendar stay there.
func (a *Agent) Disconnect(ctx context.Context) error {
	if err := a.creds.Wipe(ctx, a.cfg.OwnerRef); err != nil {
		return apperr.Storage("wipe calendar credential", err)
	}
	a.forgetToken()
	a.logger.Info("calendar disconnected", "owner_ref", a.cfg.OwnerRef)
	return nil
}

type StatusReport struct {
	State      string    `json:"state"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

func (a *Agent) Status(ctx context.Context) (StatusReport, error) {
	cred, err := a.creds.Load(ctx, a.cfg.OwnerRef)
	if err != nil {
		return StatusReport{}, apperr.Storage("load calendar credential", err)
	}
	if cred.State == nil {
		cred.State = Disconnected{}
	}
	report := StatusReport{State: cred.State.Name(), CalendarID: cred.CalendarID, UpdatedAt: cred.UpdatedAt}
	if e, ok := cred.State.(Errored); ok {
		report.Reason = e.Reason
	}
	return report, nil
}

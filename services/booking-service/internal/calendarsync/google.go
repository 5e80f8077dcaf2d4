package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Classified calendar API failures.
var (
	ErrEventExists   = errors.New("calendarsync: event id already exists")
	ErrEventGone     = errors.New("calendarsync: event not found")
	ErrTokenRejected = errors.New("calendarsync: access token rejected")
)

// EventsAPI is the calendar surface the agent writes through.
type EventsAPI interface {
	Insert(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) error
	Update(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) error
	Delete(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error
}

// OAuthClient covers the authorization code flow and token refresh.
type OAuthClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type GoogleOAuth struct {
	cfg *oauth2.Config
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *GoogleOAuth {
	return &GoogleOAuth{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope},
	}}
}

// AuthCodeURL asks for offline access with forced consent so Google always
// hands back a refresh token.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return g.cfg.Exchange(ctx, code)
}

func (g *GoogleOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// GoogleEvents talks to Google Calendar v3. Extra client options are
// appended after the token source.
type GoogleEvents struct {
	loc  *time.Location
	opts []option.ClientOption
}

func NewGoogleEvents(loc *time.Location, opts ...option.ClientOption) *GoogleEvents {
	if loc == nil {
		loc = time.UTC
	}
	return &GoogleEvents{loc: loc, opts: opts}
}

func (g *GoogleEvents) service(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	opts := append([]option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}, g.opts...)
	return calendar.NewService(ctx, opts...)
}

func (g *GoogleEvents) Insert(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) error {
	svc, err := g.service(ctx, token)
	if err != nil {
		return err
	}
	_, err = svc.Events.Insert(calendarID, g.toGoogle(ev)).Context(ctx).Do()
	return classify(err)
}

func (g *GoogleEvents) Update(ctx context.Context, token *oauth2.Token, calendarID string, ev Event) error {
	svc, err := g.service(ctx, token)
	if err != nil {
		return err
	}
	_, err = svc.Events.Update(calendarID, ev.ID, g.toGoogle(ev)).Context(ctx).Do()
	return classify(err)
}

func (g *GoogleEvents) Delete(ctx context.Context, token *oauth2.Token, calendarID, eventID string) error {
	svc, err := g.service(ctx, token)
	if err != nil {
		return err
	}
	return classify(svc.Events.Delete(calendarID, eventID).Context(ctx).Do())
}

func (g *GoogleEvents) toGoogle(ev Event) *calendar.Event {
	return &calendar.Event{
		Id:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Status:      "confirmed",
		Start: &calendar.EventDateTime{
			DateTime: ev.Start.In(g.loc).Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: ev.End.In(g.loc).Format(time.RFC3339),
			TimeZone: g.loc.String(),
		},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{"appointment_id": ev.AppointmentID},
		},
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch gerr.Code {
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrEventExists, err)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%w: %v", ErrEventGone, err)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrTokenRejected, err)
	default:
		return err
	}
}

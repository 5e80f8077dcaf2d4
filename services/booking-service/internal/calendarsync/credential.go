package calendarsync

import "time"

// State is the connection state of a calendar credential. The concrete
// types are Disconnected, Connected and Errored.
type State interface {
	Name() string
	isState()
}

type Disconnected struct{}

// Connected carries the long-lived refresh token.
type Connected struct {
	RefreshToken Secret
}

// Errored means the last refresh failed. The refresh token is kept, so a
// transient failure is retried on the next call. A grant the provider
// rejected needs the owner to reconnect.
type Errored struct {
	Reason       string
	RefreshToken Secret
}

// NeedsReconnect reports whether retrying the refresh is pointless.
func (e Errored) NeedsReconnect() bool {
	if e.RefreshToken.Empty() {
		return true
	}
	return rejectedGrant(e.Reason)
}

// rejectedGrant reports OAuth error codes that no retry will fix.
func rejectedGrant(code string) bool {
	switch code {
	case "invalid_grant", "unauthorized_client", "invalid_client", "credential_unreadable":
		return true
	default:
		return false
	}
}

func (Disconnected) Name() string { return "disconnected" }
func (Connected) Name() string    { return "connected" }
func (Errored) Name() string      { return "error" }

func (Disconnected) isState() {}
func (Connected) isState()    {}
func (Errored) isState()      {}

type Credential struct {
	OwnerRef   string
	CalendarID string
	State      State
	UpdatedAt  time.Time
}

// SyncLink ties an appointment to the calendar event mirroring it.
type SyncLink struct {
	AppointmentID   string
	ExternalEventID string
	CalendarID      string
}

// Event is the calendar-neutral shape of a mirrored appointment.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// AppointmentID is stored as a private extended property.
	AppointmentID string
}

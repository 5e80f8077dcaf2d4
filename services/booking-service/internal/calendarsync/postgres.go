package calendarsync

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptbook/libs/db"
)

// CredentialStore persists the owner's calendar credential.
type CredentialStore interface {
	// Load returns a Disconnected credential when none is stored.
	Load(ctx context.Context, ownerRef string) (Credential, error)
	Save(ctx context.Context, cred Credential) error
	MarkErrored(ctx context.Context, ownerRef, reason string) error
	// Wipe removes the credential and every SyncLink in one step.
	Wipe(ctx context.Context, ownerRef string) error
}

type LinkStore interface {
	GetLink(ctx context.Context, appointmentID string) (SyncLink, bool, error)
	SaveLink(ctx context.Context, link SyncLink) error
	DeleteLink(ctx context.Context, appointmentID string) error
}

type PostgresStore struct {
	db     db.Querier
	sealer *Sealer
}

func NewPostgresStore(q db.Querier, sealer *Sealer) *PostgresStore {
	return &PostgresStore{db: q, sealer: sealer}
}

func (s *PostgresStore) Load(ctx context.Context, ownerRef string) (Credential, error) {
	cred := Credential{OwnerRef: ownerRef, State: Disconnected{}}
	var (
		sealed []byte
		state  string
		reason string
	)
	err := s.db.QueryRow(ctx, `
		SELECT calendar_id, refresh_token, state, error_reason, updated_at
		FROM calendar_credentials
		WHERE owner_ref = $1
	`, ownerRef).Scan(&cred.CalendarID, &sealed, &state, &reason, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cred, nil
		}
		return Credential{}, err
	}

	if state != "connected" && state != "error" {
		return cred, nil
	}
	token, err := s.sealer.Open(sealed)
	if err != nil {
		cred.State = Errored{Reason: "credential_unreadable"}
		return cred, nil
	}
	if state == "error" {
		cred.State = Errored{Reason: reason, RefreshToken: token}
	} else {
		cred.State = Connected{RefreshToken: token}
	}
	return cred, nil
}

// Save stores a Connected credential. Other states go through MarkErrored
// or Wipe.
func (s *PostgresStore) Save(ctx context.Context, cred Credential) error {
	conn, ok := cred.State.(Connected)
	if !ok {
		return errors.New("calendarsync: only connected credentials can be saved")
	}
	sealed, err := s.sealer.Seal(conn.RefreshToken)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO calendar_credentials (owner_ref, calendar_id, refresh_token, state, error_reason, updated_at)
		VALUES ($1, $2, $3, 'connected', '', $4)
		ON CONFLICT (owner_ref) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			refresh_token = EXCLUDED.refresh_token,
			state = 'connected',
			error_reason = '',
			updated_at = EXCLUDED.updated_at
	`, cred.OwnerRef, cred.CalendarID, sealed, time.Now().UTC())
	return err
}

// MarkErrored records a failed refresh. The sealed token is left in place.
func (s *PostgresStore) MarkErrored(ctx context.Context, ownerRef, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE calendar_credentials
		SET state = 'error', error_reason = $2, updated_at = now()
		WHERE owner_ref = $1
	`, ownerRef, reason)
	return err
}

func (s *PostgresStore) Wipe(ctx context.Context, ownerRef string) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_credentials WHERE owner_ref = $1`, ownerRef); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM sync_links`)
		return err
	})
}

func (s *PostgresStore) GetLink(ctx context.Context, appointmentID string) (SyncLink, bool, error) {
	link := SyncLink{AppointmentID: appointmentID}
	err := s.db.QueryRow(ctx, `
		SELECT external_event_id, calendar_id
		FROM sync_links
		WHERE appointment_id = $1
	`, appointmentID).Scan(&link.ExternalEventID, &link.CalendarID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncLink{}, false, nil
		}
		return SyncLink{}, false, err
	}
	return link, true, nil
}

func (s *PostgresStore) SaveLink(ctx context.Context, link SyncLink) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_links (appointment_id, external_event_id, calendar_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id) DO UPDATE SET
			external_event_id = EXCLUDED.external_event_id,
			calendar_id = EXCLUDED.calendar_id,
			updated_at = now()
	`, link.AppointmentID, link.ExternalEventID, link.CalendarID)
	return err
}

func (s *PostgresStore) DeleteLink(ctx context.Context, appointmentID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sync_links WHERE appointment_id = $1`, appointmentID)
	return err
}

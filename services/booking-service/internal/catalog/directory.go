// Package catalog is the service directory: what can be booked, for how
// long and at what price.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type Service struct {
	ID              string
	Name            string
	DurationMinutes int
	Price           decimal.Decimal
	Description     string
	Active          bool
	CreatedAt       time.Time
}

type Directory struct {
	db db.Querier
}

func NewDirectory(q db.Querier) *Directory {
	return &Directory{db: q}
}

func (d *Directory) Create(ctx context.Context, s Service) (Service, error) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return Service{}, apperr.Validation("invalid_service", "name is required")
	}
	if s.DurationMinutes <= 0 || s.DurationMinutes > model.MinutesPerDay {
		return Service{}, apperr.Validation("invalid_service", "duration_minutes must be between 1 and 1440")
	}
	if s.Price.IsNegative() {
		return Service{}, apperr.Validation("invalid_service", "price must not be negative")
	}
	s.ID = uuid.NewString()
	s.Active = true
	err := d.db.QueryRow(ctx, `
		INSERT INTO services (id, name, duration_minutes, price, description, active)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		RETURNING created_at
	`, s.ID, s.Name, s.DurationMinutes, s.Price.String(), s.Description, s.Active).Scan(&s.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Service{}, apperr.Conflict("service_exists", "a service with that name already exists")
		}
		return Service{}, apperr.Storage("create service", err)
	}
	return s, nil
}

func (d *Directory) List(ctx context.Context, activeOnly bool) ([]Service, error) {
	rows, err := d.db.Query(ctx, `
		SELECT id::text, name, duration_minutes, price::text, description, active, created_at
		FROM services
		WHERE active OR NOT $1
		ORDER BY name ASC
	`, activeOnly)
	if err != nil {
		return nil, apperr.Storage("list services", err)
	}
	defer rows.Close()

	var out []Service
	for rows.Next() {
		var (
			s     Service
			price string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.DurationMinutes, &price, &s.Description, &s.Active, &s.CreatedAt); err != nil {
			return nil, apperr.Storage("list services", err)
		}
		if s.Price, err = decimal.NewFromString(price); err != nil {
			return nil, apperr.Storage("list services", err)
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, apperr.Storage("list services", rows.Err())
	}
	return out, nil
}

// Lookup resolves an active service. Unknown and retired ids are a
// validation failure from the caller's point of view.
func (d *Directory) Lookup(ctx context.Context, id string) (Service, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Service{}, unknownService()
	}
	var (
		s     Service
		price string
	)
	err := d.db.QueryRow(ctx, `
		SELECT id::text, name, duration_minutes, price::text, description, active, created_at
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMinutes, &price, &s.Description, &s.Active, &s.CreatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return Service{}, unknownService()
		}
		return Service{}, apperr.Storage("get service", err)
	}
	if !s.Active {
		return Service{}, unknownService()
	}
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return Service{}, apperr.Storage("get service", err)
	}
	return s, nil
}

func (d *Directory) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("service_not_found", "service not found")
	}
	tag, err := d.db.Exec(ctx, `UPDATE services SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return apperr.Storage("update service", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("service_not_found", "service not found")
	}
	return nil
}

func unknownService() error {
	return apperr.Validation("unknown_service", "service does not exist")
}

package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Repository interface {
	// ExternalVersions maps external_id to external_updated_at for every
	// patient associated with the user.
	ExternalVersions(ctx context.Context, userID string) (map[string]string, error)

	// CreateForUser inserts p unless a patient with the same external_id
	// exists, then associates the stored row with the user. created is false
	// when an existing row was reused; p.ID is set either way.
	CreateForUser(ctx context.Context, userID string, p *Patient) (created bool, err error)

	// UpdateForUser overwrites the mapped fields of the user's patient with
	// p.ExternalID. Returns ErrNotFound if the user has no such patient.
	UpdateForUser(ctx context.Context, userID string, p *Patient) error

	GetForUser(ctx context.Context, userID string, id uuid.UUID) (*Patient, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]*Patient, int, error)
}

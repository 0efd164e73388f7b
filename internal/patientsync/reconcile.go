package patientsync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/patientsync/internal/domain/patient"
	"github.com/ehr/patientsync/internal/provider"
)

// PatientStore is the part of the patient repository reconciliation writes to.
type PatientStore interface {
	ExternalVersions(ctx context.Context, userID string) (map[string]string, error)
	CreateForUser(ctx context.Context, userID string, p *patient.Patient) (bool, error)
	UpdateForUser(ctx context.Context, userID string, p *patient.Patient) error
}

// Stats counts what one reconciliation did.
type Stats struct {
	Fetched   int
	Created   int
	Reused    int // existing patient of another user attached to this one
	Updated   int
	Unchanged int
	Failed    int
}

// Reconciler applies a batch of provider records onto a user's patients.
// Records are never deleted: a patient missing from the batch is left as is.
type Reconciler struct {
	store  PatientStore
	logger zerolog.Logger
}

func NewReconciler(store PatientStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// Reconcile classifies each record as new, changed or unchanged against the
// user's stored version tokens and writes the difference. Each write stands
// alone; a failed record is logged and counted, and the rest continue. The
// returned error is set only when the stored versions could not be read, in
// which case nothing was written.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, records []provider.Record) (Stats, error) {
	stats := Stats{Fetched: len(records)}

	versions, err := r.store.ExternalVersions(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("load patients of %s: %w", userID, err)
	}

	for _, rec := range records {
		extID := rec.ExternalID()
		if extID == "" {
			r.logger.Warn().Str("user_id", userID).Msg("skipping provider record without id")
			stats.Failed++
			continue
		}

		stored, known := versions[extID]
		switch {
		case !known:
			created, err := r.store.CreateForUser(ctx, userID, PatientFromRecord(rec))
			if err != nil {
				r.logger.Error().Err(err).Str("user_id", userID).Str("external_id", extID).Msg("failed to add patient")
				stats.Failed++
				continue
			}
			if created {
				stats.Created++
			} else {
				stats.Reused++
			}
		case stored != rec.UpdatedAt:
			if err := r.store.UpdateForUser(ctx, userID, PatientFromRecord(rec)); err != nil {
				r.logger.Error().Err(err).Str("user_id", userID).Str("external_id", extID).Msg("failed to update patient")
				stats.Failed++
				continue
			}
			stats.Updated++
		default:
			stats.Unchanged++
			continue
		}
		versions[extID] = rec.UpdatedAt
	}

	return stats, nil
}

// PatientFromRecord maps a provider record onto the local patient fields.
func PatientFromRecord(rec provider.Record) *patient.Patient {
	return &patient.Patient{
		ExternalID:        rec.ExternalID(),
		FirstName:         rec.FirstName,
		LastName:          rec.LastName,
		BirthDate:         rec.BirthDate(),
		PhoneNumber:       rec.Phone(),
		PhotoReference:    rec.Photo,
		ExternalUpdatedAt: rec.UpdatedAt,
	}
}

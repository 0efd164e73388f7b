package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. ExternalID is the provider's identifier
// and is unique across all users; ExternalUpdatedAt is the provider's version
// token and is only ever compared for equality.
type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	ExternalID        string     `db:"external_id" json:"external_id"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	PhoneNumber       string     `db:"phone_number" json:"phone_number"`
	PhotoReference    *string    `db:"photo_reference" json:"photo_reference,omitempty"`
	ExternalUpdatedAt string     `db:"external_updated_at" json:"external_updated_at"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// SyncStatus describes the freshness of a user's patient list as seen by the
// list endpoint.
type SyncStatus struct {
	CachedAt      time.Time `json:"latest_sync_at"`
	StatusMessage string    `json:"status_message,omitempty"`
	Synced        bool      `json:"-"`
}

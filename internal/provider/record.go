package provider

import (
	"encoding/json"
	"time"
)

// Record is one patient entry of a provider collection page. Unknown fields
// in the payload are ignored.
type Record struct {
	ID          json.Number `json:"id"`
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DateOfBirth *string     `json:"date_of_birth"`
	HomePhone   string      `json:"home_phone"`
	CellPhone   string      `json:"cell_phone"`
	OfficePhone string      `json:"office_phone"`
	Photo       *string     `json:"patient_photo"`
	UpdatedAt   string      `json:"updated_at"`
}

// Page is the envelope returned by paginated provider endpoints.
type Page struct {
	Next     *string  `json:"next"`
	Previous *string  `json:"previous"`
	Results  []Record `json:"results"`
}

// ExternalID is the provider identifier in its string form.
func (r Record) ExternalID() string {
	return r.ID.String()
}

// PhoneCandidates lists phone fields in the order they are preferred.
func (r Record) PhoneCandidates() []string {
	return []string{r.HomePhone, r.CellPhone, r.OfficePhone}
}

// Phone returns the first non-empty phone number.
func (r Record) Phone() string {
	return FirstNonEmpty(r.PhoneCandidates()...)
}

// BirthDate parses date_of_birth as a calendar date. Missing or malformed
// values yield nil.
func (r Record) BirthDate() *time.Time {
	if r.DateOfBirth == nil || *r.DateOfBirth == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", *r.DateOfBirth)
	if err != nil {
		return nil
	}
	return &d
}

// FirstNonEmpty returns the first value that is not "", or "". A value made
// of spaces counts as set.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package patientsync

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/patientsync/internal/domain/patient"
	"github.com/ehr/patientsync/internal/domain/socialauth"
)

// -- Mock patient store --

// memStore mirrors the Postgres schema: external_id is unique across users and
// a user owns patients through an association set.
type memStore struct {
	mu          sync.Mutex
	patients    map[string]*patient.Patient // by external_id
	owners      map[string]map[string]bool  // user -> external ids
	writes      int
	versionsErr error
	failOn      map[string]error // external_id -> error returned by writes
}

func newMemStore() *memStore {
	return &memStore{
		patients: make(map[string]*patient.Patient),
		owners:   make(map[string]map[string]bool),
		failOn:   make(map[string]error),
	}
}

func (m *memStore) ExternalVersions(_ context.Context, userID string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versionsErr != nil {
		return nil, m.versionsErr
	}
	out := make(map[string]string)
	for extID := range m.owners[userID] {
		out[extID] = m.patients[extID].ExternalUpdatedAt
	}
	return out, nil
}

func (m *memStore) CreateForUser(_ context.Context, userID string, p *patient.Patient) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[p.ExternalID]; err != nil {
		return false, err
	}
	m.writes++

	created := false
	existing, ok := m.patients[p.ExternalID]
	if !ok {
		cp := *p
		cp.ID = uuid.New()
		m.patients[p.ExternalID] = &cp
		existing = &cp
		created = true
	}
	p.ID = existing.ID

	if m.owners[userID] == nil {
		m.owners[userID] = make(map[string]bool)
	}
	m.owners[userID][p.ExternalID] = true
	return created, nil
}

func (m *memStore) UpdateForUser(_ context.Context, userID string, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[p.ExternalID]; err != nil {
		return err
	}
	if !m.owners[userID][p.ExternalID] {
		return patient.ErrNotFound
	}
	m.writes++

	cp := *p
	cp.ID = m.patients[p.ExternalID].ID
	m.patients[p.ExternalID] = &cp
	return nil
}

func (m *memStore) get(extID string) *patient.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patients[extID]
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients)
}

func (m *memStore) ownedBy(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners[userID])
}

func (m *memStore) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// -- Mock token source --

type mockTokens struct {
	tokens map[string]string
	err    error
	calls  int
}

func (m *mockTokens) AccessToken(_ context.Context, userID, provider string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	tok, ok := m.tokens[userID+"/"+provider]
	if !ok {
		return "", socialauth.ErrNotFound
	}
	return tok, nil
}

var errBoom = errors.New("boom")

package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients Repository
}

func NewService(patients Repository) *Service {
	return &Service{patients: patients}
}

func (s *Service) ListPatients(ctx context.Context, userID string, limit, offset int) ([]*Patient, int, error) {
	if userID == "" {
		return nil, 0, fmt.Errorf("user_id is required")
	}
	return s.patients.ListForUser(ctx, userID, limit, offset)
}

func (s *Service) GetPatient(ctx context.Context, userID string, id uuid.UUID) (*Patient, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	return s.patients.GetForUser(ctx, userID, id)
}

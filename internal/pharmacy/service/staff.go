package service

import (
	"context"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
)

// StaffService maintains the local staff directory from user events.
type StaffService struct {
	staff  StaffDirectory
	logger *logger.Logger
}

// NewStaffService creates a new staff directory service
func NewStaffService(staff StaffDirectory, log *logger.Logger) *StaffService {
	return &StaffService{staff: staff, logger: log}
}

// Get returns a cached profile.
func (s *StaffService) Get(ctx context.Context, userID string) (*domain.StaffProfile, error) {
	return s.staff.GetProfile(ctx, userID)
}

// Sync inserts or refreshes a profile.
func (s *StaffService) Sync(ctx context.Context, p *domain.StaffProfile) error {
	if p.UserID == "" {
		return errors.ValidationField("user_id", "this field is required")
	}
	if err := s.staff.Upsert(ctx, p); err != nil {
		return err
	}
	s.logger.Debug().Str("user_id", p.UserID).Str("role", string(p.Role)).Msg("staff profile synced")
	return nil
}

// Remove drops a profile. Unknown users are ignored.
func (s *StaffService) Remove(ctx context.Context, userID string) error {
	err := s.staff.Delete(ctx, userID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	return err
}

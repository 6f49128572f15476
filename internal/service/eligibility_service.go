package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
)

type crisisReader interface {
	FindByID(ctx context.Context, id string) (*models.Crisis, error)
}

type availabilityReader interface {
	FindAvailable(ctx context.Context) ([]models.EligibleVolunteer, error)
	CountProfiles(ctx context.Context) (int, error)
}

// EligibilityService computes the candidate set for a dispatch fan-out.
// Current policy: every volunteer flagged available, regardless of skills
// or distance.
type EligibilityService struct {
	crises     crisisReader
	volunteers availabilityReader
	logger     *zap.Logger
}

// NewEligibilityService constructs EligibilityService.
func NewEligibilityService(crises crisisReader, volunteers availabilityReader, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{crises: crises, volunteers: volunteers, logger: logger}
}

// Resolve returns the eligible volunteers for a crisis. An empty list is a
// valid outcome and callers must treat it distinctly from failure.
func (s *EligibilityService) Resolve(ctx context.Context, crisisID string) ([]models.EligibleVolunteer, error) {
	if _, err := s.crises.FindByID(ctx, crisisID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "crisis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to load crisis")
	}

	volunteers, err := s.volunteers.FindAvailable(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to query available volunteers")
	}
	return volunteers, nil
}

// TotalRegistered reports how many volunteer profiles exist at all,
// available or not.
func (s *EligibilityService) TotalRegistered(ctx context.Context) (int, error) {
	total, err := s.volunteers.CountProfiles(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to count volunteers")
	}
	return total, nil
}

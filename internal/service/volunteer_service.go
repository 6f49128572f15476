package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

type volunteerProfileRepository interface {
	FindDetailByUserID(ctx context.Context, userID string) (*models.VolunteerProfileDetail, error)
	Upsert(ctx context.Context, userID string, skills []string, availability bool) (*models.VolunteerProfile, error)
}

type assignmentLister interface {
	ListByVolunteer(ctx context.Context, volunteerID string) ([]models.ResponseDetail, error)
}

// UpdateProfileRequest is the payload for volunteer profile updates.
type UpdateProfileRequest struct {
	Skills       []string `json:"skills" validate:"dive,min=1,max=64"`
	Availability bool     `json:"availability"`
}

// VolunteerService manages volunteer profiles and their assignment history.
type VolunteerService struct {
	profiles      volunteerProfileRepository
	assignments   assignmentLister
	notifications notificationSink
	validator     *validator.Validate
	logger        *zap.Logger
}

func NewVolunteerService(profiles volunteerProfileRepository, assignments assignmentLister, notifications notificationSink, v *validator.Validate, logger *zap.Logger) *VolunteerService {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VolunteerService{
		profiles:      profiles,
		assignments:   assignments,
		notifications: notifications,
		validator:     v,
		logger:        logger,
	}
}

// Profile returns the volunteer's profile with identity and rating summary.
func (s *VolunteerService) Profile(ctx context.Context, userID string) (*models.VolunteerProfileDetail, error) {
	detail, err := s.profiles.FindDetailByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "volunteer profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load volunteer profile")
	}
	return detail, nil
}

// UpdateProfile upserts skills and availability for the volunteer and
// broadcasts the change so dashboards pick it up.
func (s *VolunteerService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*models.VolunteerProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}

	skills := make([]string, 0, len(req.Skills))
	for _, skill := range req.Skills {
		skill = strings.TrimSpace(skill)
		if skill != "" {
			skills = append(skills, skill)
		}
	}

	profile, err := s.profiles.Upsert(ctx, userID, skills, req.Availability)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update volunteer profile")
	}

	if s.notifications != nil {
		s.notifications.Publish(userID, notify.EventProfileUpdate, notify.Payload{
			"message":      "Your volunteer profile was updated.",
			"availability": profile.Availability,
			"skills":       skills,
		})
	}
	return profile, nil
}

// Assignments lists the volunteer's responses joined with crisis context,
// newest first.
func (s *VolunteerService) Assignments(ctx context.Context, userID string) ([]models.ResponseDetail, error) {
	details, err := s.assignments.ListByVolunteer(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return details, nil
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	"github.com/reliefops/crisis-dispatch-api/internal/repository"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

type ratingRepository interface {
	Create(ctx context.Context, rating *models.Rating) error
	ListByVolunteer(ctx context.Context, volunteerID string) ([]models.RatingDetail, error)
}

type ratingResponseReader interface {
	FindByID(ctx context.Context, id string) (*models.Response, error)
}

type ratingAggregator interface {
	AddRating(ctx context.Context, userID string, score int) error
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubmitRatingRequest is the payload for rating a completed response.
type SubmitRatingRequest struct {
	ResponseID    string  `json:"response_id" validate:"required"`
	Score         int     `json:"score" validate:"required,min=1,max=5"`
	Comment       *string `json:"comment" validate:"omitempty,max=1000"`
	PhotoProofURL *string `json:"photo_proof_url" validate:"omitempty,max=512"`
}

// RatingService gates feedback behind task completion: a completed
// response may be rated exactly once, by its requesting civilian or an
// admin.
type RatingService struct {
	ratings       ratingRepository
	responses     ratingResponseReader
	volunteers    ratingAggregator
	audits        auditWriter
	notifications notificationSink
	validator     *validator.Validate
	logger        *zap.Logger
}

func NewRatingService(ratings ratingRepository, responses ratingResponseReader, volunteers ratingAggregator, audits auditWriter, notifications notificationSink, v *validator.Validate, logger *zap.Logger) *RatingService {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RatingService{
		ratings:       ratings,
		responses:     responses,
		volunteers:    volunteers,
		audits:        audits,
		notifications: notifications,
		validator:     v,
		logger:        logger,
	}
}

// Submit records a rating for a completed response and folds the score
// into the volunteer's running average. Admins may rate on behalf of a
// requester who cannot.
func (s *RatingService) Submit(ctx context.Context, raterID string, raterRole models.UserRole, req SubmitRatingRequest) (*models.Rating, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rating payload")
	}

	resp, err := s.responses.FindByID(ctx, req.ResponseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}

	requester := resp.CivilianRequesterID != nil && *resp.CivilianRequesterID == raterID
	if !requester && raterRole != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requesting civilian may rate this response")
	}
	if resp.Status != models.ResponseStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("only completed responses can be rated (current status: %s)", resp.Status))
	}

	rating := &models.Rating{
		ResponseID:    resp.ID,
		RaterID:       raterID,
		VolunteerID:   resp.VolunteerID,
		CrisisID:      &resp.CrisisID,
		Score:         req.Score,
		PhotoProofURL: req.PhotoProofURL,
	}
	if req.Comment != nil {
		comment := strings.TrimSpace(*req.Comment)
		if comment != "" {
			rating.Comment = &comment
		}
	}

	if err := s.ratings.Create(ctx, rating); err != nil {
		if errors.Is(err, repository.ErrDuplicateRating) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "this response has already been rated")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save rating")
	}

	if err := s.volunteers.AddRating(ctx, resp.VolunteerID, req.Score); err != nil {
		// The rating row exists; the aggregate will drift until repaired.
		s.logger.Error("failed to fold rating into volunteer aggregate",
			zap.String("volunteer_id", resp.VolunteerID), zap.Error(err))
	}

	if s.audits != nil {
		values, _ := json.Marshal(map[string]interface{}{"score": req.Score, "response_id": resp.ID})
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &raterID,
			Action:     models.AuditActionRating,
			Resource:   "ratings",
			ResourceID: &rating.ID,
			NewValues:  values,
		}); err != nil {
			s.logger.Warn("failed to record rating audit log", zap.Error(err))
		}
	}

	if s.notifications != nil {
		s.notifications.Publish(resp.VolunteerID, notify.EventNewRating, notify.Payload{
			"message":     fmt.Sprintf("You received a new rating: %d/5.", req.Score),
			"rating_id":   rating.ID,
			"response_id": resp.ID,
			"score":       req.Score,
		})
	}
	return rating, nil
}

// ListByVolunteer returns all ratings received by a volunteer, newest
// first.
func (s *RatingService) ListByVolunteer(ctx context.Context, volunteerID string) ([]models.RatingDetail, error) {
	details, err := s.ratings.ListByVolunteer(ctx, volunteerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ratings")
	}
	return details, nil
}

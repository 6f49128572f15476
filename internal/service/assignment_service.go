package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

type responseStore interface {
	FindByID(ctx context.Context, id string) (*models.Response, error)
	MarkAccepted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error)
	MarkCompleted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error)
	MarkFailed(ctx context.Context, id string, expected models.ResponseStatus, reason string) (*models.Response, error)
	UpsertAccepted(ctx context.Context, crisisID, volunteerID string, at time.Time) (*models.Response, error)
}

type volunteerCounter interface {
	IncrementCompleted(ctx context.Context, userID string) error
	IncrementFailed(ctx context.Context, userID string) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type crisisAssigner interface {
	FindByID(ctx context.Context, id string) (*models.Crisis, error)
	Assign(ctx context.Context, id, volunteerID string, allowed []models.CrisisStatus) (*models.Crisis, error)
}

// FailAssignmentRequest carries the mandatory reason for failing or
// rejecting an assignment.
type FailAssignmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// AdminAssignment is the outcome of a manual assignment: the accepted
// response plus the crisis it moved to assigned.
type AdminAssignment struct {
	Response *models.Response `json:"response"`
	Crisis   *models.Crisis   `json:"crisis"`
}

// AssignmentService drives the response lifecycle: volunteer accept,
// complete and fail transitions, plus admin-directed assignment. Every
// transition is committed through a status-guarded update so two racing
// writers can never both win.
type AssignmentService struct {
	responses     responseStore
	volunteers    volunteerCounter
	users         userReader
	crises        crisisAssigner
	notifications notificationSink
	validator     *validator.Validate
	metrics       *MetricsService
	logger        *zap.Logger
}

func NewAssignmentService(responses responseStore, volunteers volunteerCounter, users userReader, crises crisisAssigner, notifications notificationSink, v *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AssignmentService {
	if v == nil {
		v = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{
		responses:     responses,
		volunteers:    volunteers,
		users:         users,
		crises:        crises,
		notifications: notifications,
		validator:     v,
		metrics:       metrics,
		logger:        logger,
	}
}

// Accept moves a notified assignment to accepted on behalf of its
// volunteer, stamping acceptedAt.
func (s *AssignmentService) Accept(ctx context.Context, responseID, actorID string) (*models.Response, error) {
	resp, err := s.loadOwned(ctx, responseID, actorID)
	if err != nil {
		return nil, err
	}
	if resp.Status != models.ResponseStatusNotified {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot accept assignment with status: %s", resp.Status))
	}

	updated, err := s.responses.MarkAccepted(ctx, resp.ID, resp.Status, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, please reload")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to accept assignment")
	}
	s.recordTransition("accept")

	s.notifications.Publish(updated.VolunteerID, notify.EventAssignmentUpdate, notify.Payload{
		"message":     "You accepted the assignment.",
		"response_id": updated.ID,
		"crisis_id":   updated.CrisisID,
		"status":      updated.Status,
	})
	if updated.CivilianRequesterID != nil {
		s.notifications.Publish(*updated.CivilianRequesterID, notify.EventVolunteerAccepted, notify.Payload{
			"message":     "A volunteer accepted your help request and is on the way.",
			"response_id": updated.ID,
			"crisis_id":   updated.CrisisID,
		})
	}
	return updated, nil
}

// Complete finishes an in-progress assignment, stamping completedAt and
// crediting the volunteer's completed-task counter.
func (s *AssignmentService) Complete(ctx context.Context, responseID, actorID string) (*models.Response, error) {
	resp, err := s.loadOwned(ctx, responseID, actorID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.In(models.CompletableStatuses) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot complete assignment with status: %s", resp.Status))
	}

	updated, err := s.responses.MarkCompleted(ctx, resp.ID, resp.Status, time.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, please reload")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete assignment")
	}
	s.recordTransition("complete")

	if err := s.volunteers.IncrementCompleted(ctx, updated.VolunteerID); err != nil {
		// The transition is already committed. Counters are advisory.
		s.logger.Error("failed to increment completed tasks",
			zap.String("volunteer_id", updated.VolunteerID), zap.Error(err))
	}

	s.notifications.Publish(updated.VolunteerID, notify.EventAssignmentUpdate, notify.Payload{
		"message":     "Assignment marked as completed. Thank you!",
		"response_id": updated.ID,
		"crisis_id":   updated.CrisisID,
		"status":      updated.Status,
	})
	if updated.CivilianRequesterID != nil {
		s.notifications.Publish(*updated.CivilianRequesterID, notify.EventTaskCompleted, notify.Payload{
			"message":     "The volunteer completed the task. Please rate their performance.",
			"response_id": updated.ID,
			"crisis_id":   updated.CrisisID,
		})
	}
	return updated, nil
}

// Fail terminates an assignment from any non-terminal status. A reason is
// mandatory and the accept/complete timestamps are wiped so the record
// cannot read like a finished task. Failing straight from notified is a
// rejection and the civilian is told as much.
func (s *AssignmentService) Fail(ctx context.Context, responseID, actorID string, req FailAssignmentRequest) (*models.Response, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required when failing or rejecting an assignment")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required when failing or rejecting an assignment")
	}

	resp, err := s.loadOwned(ctx, responseID, actorID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.In(models.FailableStatuses) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot fail assignment with status: %s", resp.Status))
	}
	rejected := resp.Status == models.ResponseStatusNotified

	updated, err := s.responses.MarkFailed(ctx, resp.ID, resp.Status, reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, please reload")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fail assignment")
	}
	s.recordTransition("fail")

	if err := s.volunteers.IncrementFailed(ctx, updated.VolunteerID); err != nil {
		s.logger.Error("failed to increment failed tasks",
			zap.String("volunteer_id", updated.VolunteerID), zap.Error(err))
	}

	s.notifications.Publish(updated.VolunteerID, notify.EventAssignmentUpdate, notify.Payload{
		"message":     "Assignment marked as failed.",
		"response_id": updated.ID,
		"crisis_id":   updated.CrisisID,
		"status":      updated.Status,
		"reason":      reason,
	})
	if updated.CivilianRequesterID != nil {
		message := "The volunteer could not finish the task. We are looking for a replacement."
		if rejected {
			message = "A volunteer declined your help request. Other volunteers have been notified."
		}
		s.notifications.Publish(*updated.CivilianRequesterID, notify.EventTaskFailed, notify.Payload{
			"message":     message,
			"response_id": updated.ID,
			"crisis_id":   updated.CrisisID,
			"rejected":    rejected,
		})
	}
	return updated, nil
}

// AdminAssign lets a coordinator put a specific volunteer on a crisis,
// bypassing the volunteer's own accept step. The response lands directly
// in accepted (any earlier failed attempt by the same volunteer is
// revived) and the crisis moves to assigned.
func (s *AssignmentService) AdminAssign(ctx context.Context, crisisID, volunteerID string) (*AdminAssignment, error) {
	crisis, err := s.crises.FindByID(ctx, crisisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "crisis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load crisis")
	}

	user, err := s.users.FindByID(ctx, volunteerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "volunteer user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load volunteer")
	}
	if user.Role != models.RoleVolunteer {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("user %s is not registered as a volunteer", user.FullName))
	}

	if !crisis.Status.In(models.AssignableStatuses) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("crisis cannot be assigned (current status: %s)", crisis.Status))
	}
	if crisis.Status == models.CrisisStatusAssigned && crisis.AssignedVolunteerID != nil && *crisis.AssignedVolunteerID == volunteerID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "volunteer is already assigned to this crisis")
	}
	previousAssignee := crisis.AssignedVolunteerID

	resp, err := s.responses.UpsertAccepted(ctx, crisisID, volunteerID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record assignment")
	}

	updatedCrisis, err := s.crises.Assign(ctx, crisisID, volunteerID, models.AssignableStatuses)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "crisis status changed concurrently, please reload")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign crisis")
	}
	s.recordTransition("admin_assign")

	if previousAssignee != nil && *previousAssignee != volunteerID {
		s.notifications.Publish(*previousAssignee, notify.EventAssignmentReassigned, notify.Payload{
			"message":   "This crisis has been reassigned to another volunteer.",
			"crisis_id": crisisID,
		})
	}
	s.notifications.Publish(volunteerID, notify.EventAssignmentNotification, notify.Payload{
		"message":     "An administrator has assigned you to a crisis.",
		"crisis_id":   crisisID,
		"crisis_type": updatedCrisis.DisasterType,
		"response_id": resp.ID,
	})

	return &AdminAssignment{Response: resp, Crisis: updatedCrisis}, nil
}

func (s *AssignmentService) loadOwned(ctx context.Context, responseID, actorID string) (*models.Response, error) {
	resp, err := s.responses.FindByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if resp.VolunteerID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not authorized to act on this assignment")
	}
	return resp, nil
}

func (s *AssignmentService) recordTransition(kind string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(kind)
	}
}

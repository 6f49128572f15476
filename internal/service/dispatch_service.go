package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
	appErrors "github.com/reliefops/crisis-dispatch-api/pkg/errors"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

type responseUpserter interface {
	FindOrCreate(ctx context.Context, crisisID, volunteerID string, civilianRequesterID *string) (*models.Response, bool, error)
}

type eligibilityResolver interface {
	Resolve(ctx context.Context, crisisID string) ([]models.EligibleVolunteer, error)
	TotalRegistered(ctx context.Context) (int, error)
}

// DispatchService fans a help request out to every eligible volunteer,
// recording (or reusing) one response per recipient and alerting each over
// the notification channel.
type DispatchService struct {
	crises      crisisReader
	eligibility eligibilityResolver
	responses   responseUpserter
	notifier    notify.Notifier
	metrics     *MetricsService
	logger      *zap.Logger
	concurrency int
}

// NewDispatchService constructs DispatchService. The notifier is used
// synchronously inside the fan-out because the reported count only covers
// volunteers whose notification actually went out.
func NewDispatchService(crises crisisReader, eligibility eligibilityResolver, responses responseUpserter, notifier notify.Notifier, metrics *MetricsService, logger *zap.Logger, concurrency int) *DispatchService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &DispatchService{
		crises:      crises,
		eligibility: eligibility,
		responses:   responses,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RequestHelp notifies all eligible volunteers about a crisis on behalf of
// a civilian. Each volunteer is processed independently: one failing
// store write or emit is logged and skipped, never aborting the batch.
// Repeat calls reuse existing responses, so the at-most-one-response
// invariant holds no matter how often a civilian asks.
func (s *DispatchService) RequestHelp(ctx context.Context, crisisID, civilianID string) (*models.DispatchResult, error) {
	crisis, err := s.crises.FindByID(ctx, crisisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "crisis not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDependency.Code, appErrors.ErrDependency.Status, "failed to load crisis")
	}
	if !crisis.Status.In(models.HelpRequestableStatuses) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("help cannot be requested for this crisis (current status: %s)", crisis.Status))
	}

	eligible, err := s.eligibility.Resolve(ctx, crisisID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		total, err := s.eligibility.TotalRegistered(ctx)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			return nil, appErrors.Clone(appErrors.ErrNoVolunteers, "there are currently no registered volunteers")
		}
		// Volunteers exist but none are available right now. Not an error.
		return &models.DispatchResult{NotifiedCount: 0, EligibleCount: 0}, nil
	}

	var notified int64
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, volunteer := range eligible {
		wg.Add(1)
		go func(v models.EligibleVolunteer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if s.notifyVolunteer(ctx, crisis, v, civilianID) {
				atomic.AddInt64(&notified, 1)
			}
		}(volunteer)
	}
	wg.Wait()

	s.logger.Info("help request dispatched",
		zap.String("crisis_id", crisisID),
		zap.Int("eligible", len(eligible)),
		zap.Int64("notified", notified),
	)
	return &models.DispatchResult{NotifiedCount: int(notified), EligibleCount: len(eligible)}, nil
}

func (s *DispatchService) notifyVolunteer(ctx context.Context, crisis *models.Crisis, volunteer models.EligibleVolunteer, civilianID string) bool {
	resp, created, err := s.responses.FindOrCreate(ctx, crisis.ID, volunteer.UserID, &civilianID)
	if err != nil {
		s.logger.Error("failed to record response for volunteer",
			zap.String("crisis_id", crisis.ID),
			zap.String("volunteer_id", volunteer.UserID),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordNotification(false)
		}
		return false
	}
	if !created {
		s.logger.Debug("re-notifying volunteer on existing response",
			zap.String("response_id", resp.ID),
			zap.String("volunteer_id", volunteer.UserID),
		)
	}

	payload := notify.Payload{
		"message":         fmt.Sprintf("New crisis requires assistance! (%s)", crisis.DisasterType),
		"crisis_id":       crisis.ID,
		"crisis_type":     crisis.DisasterType,
		"crisis_severity": crisis.Severity,
		"response_id":     resp.ID,
	}
	if err := s.notifier.Notify(ctx, volunteer.UserID, notify.EventAssignmentNotification, payload); err != nil {
		s.logger.Error("failed to notify volunteer",
			zap.String("crisis_id", crisis.ID),
			zap.String("volunteer_id", volunteer.UserID),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordNotification(false)
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.RecordNotification(true)
	}
	return true
}

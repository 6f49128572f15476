package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reliefops/crisis-dispatch-api/pkg/jobs"
	"github.com/reliefops/crisis-dispatch-api/pkg/notify"
)

// notificationSink is the capability the state machine uses to emit
// best-effort notifications after a committed transition.
type notificationSink interface {
	Publish(userID, event string, payload notify.Payload)
}

// NotificationService decouples state transitions from notification
// delivery: messages are enqueued on an in-process worker queue and
// retried a few times, but a delivery failure never surfaces to the
// operation that produced it.
type NotificationService struct {
	notifier notify.Notifier
	queue    *jobs.Queue
	logger   *zap.Logger
}

// NewNotificationService constructs the service and its backing queue.
func NewNotificationService(notifier notify.Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{notifier: notifier, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.deliver, cfg)
	return s
}

// Start begins queue consumption.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Publish enqueues one notification. Errors are logged, never returned:
// the state change that triggered the notification is already the source
// of truth.
func (s *NotificationService) Publish(userID, event string, payload notify.Payload) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    event,
		Payload: notify.Message{UserID: userID, Event: event, Payload: payload},
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("event", event),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(notify.Message)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return s.notifier.Notify(ctx, msg.UserID, msg.Event, msg.Payload)
}

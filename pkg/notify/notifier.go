package notify

import "context"

// Event names delivered to connected clients. The push transport only
// forwards these; it never interprets them.
const (
	EventAssignmentNotification = "assignment_notification"
	EventAssignmentUpdate       = "assignment_update"
	EventAssignmentReassigned   = "assignment_reassigned"
	EventVolunteerAccepted      = "volunteer_accepted"
	EventTaskCompleted          = "task_completed"
	EventTaskFailed             = "task_failed"
	EventNewRating              = "new_rating"
	EventProfileUpdate          = "volunteer_profile_update"
)

// Payload is a flat mapping of string keys to primitive values.
type Payload map[string]interface{}

// Message is one notification addressed to a single user.
type Message struct {
	UserID  string  `json:"user_id"`
	Event   string  `json:"event"`
	Payload Payload `json:"payload"`
}

// Notifier delivers fire-and-forget notifications to a user. Delivery is
// best effort; callers must not treat a send failure as fatal for state
// already committed.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload Payload) error
}

// Nop discards all notifications. Used in tests and when the push channel
// is not configured.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, string, Payload) error { return nil }

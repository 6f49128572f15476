package models

import "time"

// ResponseStatus tracks one volunteer's engagement with one crisis.
//
// Transitions are monotonic: notified -> accepted -> en_route -> arrived
// -> completed, with failed reachable from every non-terminal status.
// Admin assignment is the single path allowed to force a response into
// accepted regardless of its current status.
type ResponseStatus string

const (
	ResponseStatusNotified  ResponseStatus = "notified"
	ResponseStatusAccepted  ResponseStatus = "accepted"
	ResponseStatusEnRoute   ResponseStatus = "en_route"
	ResponseStatusArrived   ResponseStatus = "arrived"
	ResponseStatusCompleted ResponseStatus = "completed"
	ResponseStatusFailed    ResponseStatus = "failed"
)

// CompletableStatuses are the statuses from which a volunteer may mark the
// assignment completed.
var CompletableStatuses = []ResponseStatus{
	ResponseStatusAccepted,
	ResponseStatusEnRoute,
	ResponseStatusArrived,
}

// FailableStatuses are the statuses from which a volunteer may fail or
// reject the assignment.
var FailableStatuses = []ResponseStatus{
	ResponseStatusNotified,
	ResponseStatusAccepted,
	ResponseStatusEnRoute,
	ResponseStatusArrived,
}

// Terminal reports whether no further volunteer-driven transition is
// permitted from the status.
func (s ResponseStatus) Terminal() bool {
	return s == ResponseStatusCompleted || s == ResponseStatusFailed
}

// In reports whether the status is contained in the candidate set.
func (s ResponseStatus) In(set []ResponseStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

// Response records one volunteer's engagement with one crisis. There is at
// most one row per (crisis, volunteer) pair; rows are never deleted, so
// terminal responses remain as history for ratings and analytics.
type Response struct {
	ID                  string         `db:"id" json:"id"`
	CrisisID            string         `db:"crisis_id" json:"crisis_id"`
	VolunteerID         string         `db:"volunteer_id" json:"volunteer_id"`
	CivilianRequesterID *string        `db:"civilian_requester_id" json:"civilian_requester_id,omitempty"`
	Status              ResponseStatus `db:"status" json:"status"`
	AcceptedAt          *time.Time     `db:"accepted_at" json:"accepted_at,omitempty"`
	CompletedAt         *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	FailedReason        *string        `db:"failed_reason" json:"failed_reason,omitempty"`
	CreatedAt           time.Time      `db:"created_at" json:"created_at"`
}

// ResponseDetail joins a response with crisis context for listings.
type ResponseDetail struct {
	Response
	DisasterType   string       `db:"disaster_type" json:"disaster_type"`
	CrisisSeverity int          `db:"crisis_severity" json:"crisis_severity"`
	CrisisStatus   CrisisStatus `db:"crisis_status" json:"crisis_status"`
	CrisisAddress  *string      `db:"crisis_address" json:"crisis_address,omitempty"`
}

// DispatchResult summarises one help-request fan-out.
type DispatchResult struct {
	NotifiedCount int `json:"notified_count"`
	EligibleCount int `json:"eligible_count"`
}

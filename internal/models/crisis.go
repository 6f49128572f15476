package models

import "time"

// CrisisStatus tracks a crisis through its dispatch lifecycle.
type CrisisStatus string

const (
	CrisisStatusNew               CrisisStatus = "new"
	CrisisStatusVerified          CrisisStatus = "verified"
	CrisisStatusNotificationsSent CrisisStatus = "notifications_sent"
	CrisisStatusAssigned          CrisisStatus = "assigned"
	CrisisStatusResolved          CrisisStatus = "resolved"
	CrisisStatusClosed            CrisisStatus = "closed"
)

// HelpRequestableStatuses lists crisis statuses in which civilians may
// still request help.
var HelpRequestableStatuses = []CrisisStatus{
	CrisisStatusNew,
	CrisisStatusVerified,
	CrisisStatusNotificationsSent,
}

// AssignableStatuses lists crisis statuses in which an admin may assign a
// volunteer. Reassignment of an already assigned crisis is allowed.
var AssignableStatuses = []CrisisStatus{
	CrisisStatusNew,
	CrisisStatusVerified,
	CrisisStatusNotificationsSent,
	CrisisStatusAssigned,
}

// Crisis is an ingested crisis record. Creation happens out of process;
// dispatch only reads crises and moves them to assigned.
type Crisis struct {
	ID                  string       `db:"id" json:"id"`
	DisasterType        string       `db:"disaster_type" json:"disaster_type"`
	Severity            int          `db:"severity" json:"severity"`
	Longitude           float64      `db:"longitude" json:"longitude"`
	Latitude            float64      `db:"latitude" json:"latitude"`
	Address             *string      `db:"address" json:"address,omitempty"`
	Description         *string      `db:"description" json:"description,omitempty"`
	Status              CrisisStatus `db:"status" json:"status"`
	AssignedVolunteerID *string      `db:"assigned_volunteer_id" json:"assigned_volunteer_id,omitempty"`
	CreatedAt           time.Time    `db:"created_at" json:"created_at"`
}

// CrisisFilter captures filtering criteria for the crisis feed.
type CrisisFilter struct {
	Status       CrisisStatus
	DisasterType string
	MinSeverity  int
	Page         int
	PageSize     int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// In reports whether the status is contained in the candidate set.
func (s CrisisStatus) In(set []CrisisStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

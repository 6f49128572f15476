package models

import (
	"time"

	"github.com/lib/pq"
)

// VolunteerProfile is the one-to-one dispatch profile of a volunteer user.
// The rating average is kept as a running sum and count so concurrent
// rating writes stay a single atomic increment.
type VolunteerProfile struct {
	UserID         string         `db:"user_id" json:"user_id"`
	Skills         pq.StringArray `db:"skills" json:"skills"`
	Availability   bool           `db:"availability" json:"availability"`
	RatingSum      int            `db:"rating_sum" json:"-"`
	RatingCount    int            `db:"rating_count" json:"rating_count"`
	CompletedTasks int            `db:"completed_tasks" json:"completed_tasks"`
	FailedTasks    int            `db:"failed_tasks" json:"failed_tasks"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// AverageRating computes the rolling average from the stored sum and count.
func (p *VolunteerProfile) AverageRating() float64 {
	if p == nil || p.RatingCount == 0 {
		return 0
	}
	return float64(p.RatingSum) / float64(p.RatingCount)
}

// VolunteerProfileDetail joins profile data with the owning user.
type VolunteerProfileDetail struct {
	VolunteerProfile
	FullName      string  `db:"full_name" json:"full_name"`
	Email         string  `db:"email" json:"email"`
	AverageRating float64 `db:"-" json:"average_rating"`
}

// EligibleVolunteer is one candidate recipient of a dispatch notification.
type EligibleVolunteer struct {
	UserID   string `db:"user_id" json:"user_id"`
	FullName string `db:"full_name" json:"full_name"`
}

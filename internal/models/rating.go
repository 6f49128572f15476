package models

import "time"

// Rating is feedback for one completed response. At most one rating per
// (response, rater) pair.
type Rating struct {
	ID            string    `db:"id" json:"id"`
	ResponseID    string    `db:"response_id" json:"response_id"`
	RaterID       string    `db:"rater_id" json:"rater_id"`
	VolunteerID   string    `db:"volunteer_id" json:"volunteer_id"`
	CrisisID      *string   `db:"crisis_id" json:"crisis_id,omitempty"`
	Score         int       `db:"score" json:"score"`
	Comment       *string   `db:"comment" json:"comment,omitempty"`
	PhotoProofURL *string   `db:"photo_proof_url" json:"photo_proof_url,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// RatingDetail joins a rating with the rater's name for listings.
type RatingDetail struct {
	Rating
	RaterName string `db:"rater_name" json:"rater_name"`
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
)

// ErrDuplicateRating is returned when a rater has already rated a
// response; backed by the unique index on (response_id, rater_id).
var ErrDuplicateRating = errors.New("rating already exists for response and rater")

const pqUniqueViolation = "23505"

// RatingRepository handles persistence of ratings.
type RatingRepository struct {
	db *sqlx.DB
}

// NewRatingRepository constructs the repository.
func NewRatingRepository(db *sqlx.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Create persists a new rating. The unique index is the authority on
// duplicates so concurrent submissions cannot both land.
func (r *RatingRepository) Create(ctx context.Context, rating *models.Rating) error {
	if rating.ID == "" {
		rating.ID = uuid.NewString()
	}
	if rating.CreatedAt.IsZero() {
		rating.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO ratings (id, response_id, rater_id, volunteer_id, crisis_id, score, comment, photo_proof_url, created_at)
        VALUES (:id, :response_id, :rater_id, :volunteer_id, :crisis_id, :score, :comment, :photo_proof_url, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rating); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateRating
		}
		return fmt.Errorf("create rating: %w", err)
	}
	return nil
}

// ListByVolunteer returns all ratings received by a volunteer, newest
// first, with the rater's name.
func (r *RatingRepository) ListByVolunteer(ctx context.Context, volunteerID string) ([]models.RatingDetail, error) {
	const query = `SELECT g.id, g.response_id, g.rater_id, g.volunteer_id, g.crisis_id, g.score,
        g.comment, g.photo_proof_url, g.created_at, u.full_name AS rater_name
        FROM ratings g
        JOIN users u ON u.id = g.rater_id
        WHERE g.volunteer_id = $1
        ORDER BY g.created_at DESC`
	var ratings []models.RatingDetail
	if err := r.db.SelectContext(ctx, &ratings, query, volunteerID); err != nil {
		return nil, fmt.Errorf("list volunteer ratings: %w", err)
	}
	return ratings, nil
}

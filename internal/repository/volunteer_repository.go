package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
)

// VolunteerRepository handles persistence of volunteer profiles. Task
// counters and the rating tally are mutated with single-statement
// increments so concurrent updates never read-modify-write.
type VolunteerRepository struct {
	db *sqlx.DB
}

// NewVolunteerRepository constructs the repository.
func NewVolunteerRepository(db *sqlx.DB) *VolunteerRepository {
	return &VolunteerRepository{db: db}
}

const profileColumns = `user_id, skills, availability, rating_sum, rating_count, completed_tasks, failed_tasks, updated_at`

// FindAvailable returns every volunteer whose profile is flagged
// available, joined with the owning user for the display name. Skills and
// distance are deliberately not considered.
func (r *VolunteerRepository) FindAvailable(ctx context.Context) ([]models.EligibleVolunteer, error) {
	const query = `SELECT p.user_id, u.full_name
        FROM volunteer_profiles p
        JOIN users u ON u.id = p.user_id
        WHERE p.availability = TRUE
        ORDER BY p.user_id`
	var volunteers []models.EligibleVolunteer
	if err := r.db.SelectContext(ctx, &volunteers, query); err != nil {
		return nil, fmt.Errorf("find available volunteers: %w", err)
	}
	return volunteers, nil
}

// CountProfiles returns the total number of volunteer profiles in the
// system, available or not.
func (r *VolunteerRepository) CountProfiles(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM volunteer_profiles`); err != nil {
		return 0, fmt.Errorf("count volunteer profiles: %w", err)
	}
	return total, nil
}

// FindByUserID returns the profile owned by the given user.
func (r *VolunteerRepository) FindByUserID(ctx context.Context, userID string) (*models.VolunteerProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM volunteer_profiles WHERE user_id = $1`, profileColumns)
	var profile models.VolunteerProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// FindDetailByUserID returns the profile joined with user data.
func (r *VolunteerRepository) FindDetailByUserID(ctx context.Context, userID string) (*models.VolunteerProfileDetail, error) {
	const query = `SELECT p.user_id, p.skills, p.availability, p.rating_sum, p.rating_count,
        p.completed_tasks, p.failed_tasks, p.updated_at, u.full_name, u.email
        FROM volunteer_profiles p
        JOIN users u ON u.id = p.user_id
        WHERE p.user_id = $1`
	var detail models.VolunteerProfileDetail
	if err := r.db.GetContext(ctx, &detail, query, userID); err != nil {
		return nil, err
	}
	detail.AverageRating = detail.VolunteerProfile.AverageRating()
	return &detail, nil
}

// Upsert creates the profile on first write and updates skills and
// availability afterwards. Counters and the rating tally are never touched
// here.
func (r *VolunteerRepository) Upsert(ctx context.Context, userID string, skills []string, availability bool) (*models.VolunteerProfile, error) {
	if skills == nil {
		skills = []string{}
	}
	query := fmt.Sprintf(`INSERT INTO volunteer_profiles (user_id, skills, availability, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET skills = EXCLUDED.skills,
            availability = EXCLUDED.availability, updated_at = EXCLUDED.updated_at
        RETURNING %s`, profileColumns)
	var profile models.VolunteerProfile
	if err := r.db.GetContext(ctx, &profile, query, userID, pq.Array(skills), availability, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("upsert volunteer profile: %w", err)
	}
	return &profile, nil
}

// EnsureExists provisions an empty profile if the user has none yet.
func (r *VolunteerRepository) EnsureExists(ctx context.Context, userID string) error {
	const query = `INSERT INTO volunteer_profiles (user_id, skills, availability, updated_at)
        VALUES ($1, '{}', FALSE, $2)
        ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure volunteer profile: %w", err)
	}
	return nil
}

// IncrementCompleted bumps the volunteer's completed task counter.
func (r *VolunteerRepository) IncrementCompleted(ctx context.Context, userID string) error {
	const query = `UPDATE volunteer_profiles SET completed_tasks = completed_tasks + 1, updated_at = $2 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment completed tasks: %w", err)
	}
	return nil
}

// IncrementFailed bumps the volunteer's failed task counter.
func (r *VolunteerRepository) IncrementFailed(ctx context.Context, userID string) error {
	const query = `UPDATE volunteer_profiles SET failed_tasks = failed_tasks + 1, updated_at = $2 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment failed tasks: %w", err)
	}
	return nil
}

// AddRating folds one score into the running rating tally.
func (r *VolunteerRepository) AddRating(ctx context.Context, userID string, score int) error {
	const query = `UPDATE volunteer_profiles SET rating_sum = rating_sum + $2, rating_count = rating_count + 1, updated_at = $3 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, score, time.Now().UTC()); err != nil {
		return fmt.Errorf("add rating: %w", err)
	}
	return nil
}

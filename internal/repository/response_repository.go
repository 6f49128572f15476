package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
)

// ResponseRepository handles persistence of responses. The unique index on
// (crisis_id, volunteer_id) plus upsert semantics keep exactly one row per
// pair under concurrent help requests, and every transition is a guarded
// single-statement update so concurrent transitions on one response are
// linearised by the database.
type ResponseRepository struct {
	db *sqlx.DB
}

// NewResponseRepository constructs the repository.
func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

const responseColumns = `id, crisis_id, volunteer_id, civilian_requester_id, status, accepted_at, completed_at, failed_reason, created_at`

// FindByID returns a response by its ID.
func (r *ResponseRepository) FindByID(ctx context.Context, id string) (*models.Response, error) {
	query := fmt.Sprintf(`SELECT %s FROM responses WHERE id = $1`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, id); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindByPair returns the response for a (crisis, volunteer) pair.
func (r *ResponseRepository) FindByPair(ctx context.Context, crisisID, volunteerID string) (*models.Response, error) {
	query := fmt.Sprintf(`SELECT %s FROM responses WHERE crisis_id = $1 AND volunteer_id = $2`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, crisisID, volunteerID); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindOrCreate inserts a notified response for the pair, or returns the
// existing row untouched when one is already present. Re-notification must
// never reset an in-flight response. The returned flag reports whether a
// new row was created.
func (r *ResponseRepository) FindOrCreate(ctx context.Context, crisisID, volunteerID string, civilianRequesterID *string) (*models.Response, bool, error) {
	insert := fmt.Sprintf(`INSERT INTO responses (id, crisis_id, volunteer_id, civilian_requester_id, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (crisis_id, volunteer_id) DO NOTHING
        RETURNING %s`, responseColumns)

	var resp models.Response
	err := r.db.GetContext(ctx, &resp, insert,
		uuid.NewString(), crisisID, volunteerID, civilianRequesterID,
		models.ResponseStatusNotified, time.Now().UTC())
	if err == nil {
		return &resp, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create response: %w", err)
	}

	existing, err := r.FindByPair(ctx, crisisID, volunteerID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing response: %w", err)
	}
	return existing, false, nil
}

// MarkAccepted moves the response to accepted, guarded by the expected
// current status. Returns sql.ErrNoRows when the guard misses, meaning a
// concurrent transition won.
func (r *ResponseRepository) MarkAccepted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error) {
	query := fmt.Sprintf(`UPDATE responses SET status = $3, accepted_at = $4
        WHERE id = $1 AND status = $2
        RETURNING %s`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, id, expected, models.ResponseStatusAccepted, at); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkCompleted moves the response to completed, guarded by the expected
// current status.
func (r *ResponseRepository) MarkCompleted(ctx context.Context, id string, expected models.ResponseStatus, at time.Time) (*models.Response, error) {
	query := fmt.Sprintf(`UPDATE responses SET status = $3, completed_at = $4
        WHERE id = $1 AND status = $2
        RETURNING %s`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, id, expected, models.ResponseStatusCompleted, at); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MarkFailed moves the response to failed, records the reason and clears
// the acceptance and completion stamps, guarded by the expected current
// status.
func (r *ResponseRepository) MarkFailed(ctx context.Context, id string, expected models.ResponseStatus, reason string) (*models.Response, error) {
	query := fmt.Sprintf(`UPDATE responses SET status = $3, failed_reason = $4, accepted_at = NULL, completed_at = NULL
        WHERE id = $1 AND status = $2
        RETURNING %s`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query, id, expected, models.ResponseStatusFailed, reason); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpsertAccepted forces the pair's response straight into accepted. This
// is the admin dispatch path; it bypasses the volunteer-driven transition
// order, so any failure residue is wiped.
func (r *ResponseRepository) UpsertAccepted(ctx context.Context, crisisID, volunteerID string, at time.Time) (*models.Response, error) {
	query := fmt.Sprintf(`INSERT INTO responses (id, crisis_id, volunteer_id, status, accepted_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (crisis_id, volunteer_id) DO UPDATE SET status = EXCLUDED.status,
            accepted_at = EXCLUDED.accepted_at, completed_at = NULL, failed_reason = NULL
        RETURNING %s`, responseColumns)
	var resp models.Response
	if err := r.db.GetContext(ctx, &resp, query,
		uuid.NewString(), crisisID, volunteerID, models.ResponseStatusAccepted, at); err != nil {
		return nil, fmt.Errorf("upsert accepted response: %w", err)
	}
	return &resp, nil
}

// ListByVolunteer returns the volunteer's responses joined with crisis
// context, newest first.
func (r *ResponseRepository) ListByVolunteer(ctx context.Context, volunteerID string) ([]models.ResponseDetail, error) {
	const query = `SELECT r.id, r.crisis_id, r.volunteer_id, r.civilian_requester_id, r.status,
        r.accepted_at, r.completed_at, r.failed_reason, r.created_at,
        c.disaster_type, c.severity AS crisis_severity, c.status AS crisis_status, c.address AS crisis_address
        FROM responses r
        JOIN crises c ON c.id = r.crisis_id
        WHERE r.volunteer_id = $1
        ORDER BY r.created_at DESC`
	var details []models.ResponseDetail
	if err := r.db.SelectContext(ctx, &details, query, volunteerID); err != nil {
		return nil, fmt.Errorf("list volunteer responses: %w", err)
	}
	return details, nil
}

// ListByCrisis returns all responses recorded for a crisis.
func (r *ResponseRepository) ListByCrisis(ctx context.Context, crisisID string) ([]models.ResponseDetail, error) {
	const query = `SELECT r.id, r.crisis_id, r.volunteer_id, r.civilian_requester_id, r.status,
        r.accepted_at, r.completed_at, r.failed_reason, r.created_at,
        c.disaster_type, c.severity AS crisis_severity, c.status AS crisis_status, c.address AS crisis_address
        FROM responses r
        JOIN crises c ON c.id = r.crisis_id
        WHERE r.crisis_id = $1
        ORDER BY r.created_at ASC`
	var details []models.ResponseDetail
	if err := r.db.SelectContext(ctx, &details, query, crisisID); err != nil {
		return nil, fmt.Errorf("list crisis responses: %w", err)
	}
	return details, nil
}

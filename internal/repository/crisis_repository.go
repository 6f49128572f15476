package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/reliefops/crisis-dispatch-api/internal/models"
)

// CrisisRepository handles persistence of crisis records. Crises are
// created by the ingestion pipeline; dispatch reads them and moves them to
// assigned.
type CrisisRepository struct {
	db *sqlx.DB
}

// NewCrisisRepository constructs the repository.
func NewCrisisRepository(db *sqlx.DB) *CrisisRepository {
	return &CrisisRepository{db: db}
}

const crisisColumns = `id, disaster_type, severity, longitude, latitude, address, description, status, assigned_volunteer_id, created_at`

// List returns crises filtered by the provided criteria.
func (r *CrisisRepository) List(ctx context.Context, filter models.CrisisFilter) ([]models.Crisis, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.DisasterType != "" {
		conditions = append(conditions, fmt.Sprintf("disaster_type = $%d", len(args)+1))
		args = append(args, filter.DisasterType)
	}
	if filter.MinSeverity > 0 {
		conditions = append(conditions, fmt.Sprintf("severity >= $%d", len(args)+1))
		args = append(args, filter.MinSeverity)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM crises%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		crisisColumns, clause, size, offset)

	var crises []models.Crisis
	if err := r.db.SelectContext(ctx, &crises, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list crises: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM crises" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count crises: %w", err)
	}
	return crises, total, nil
}

// FindByID returns a crisis by its ID.
func (r *CrisisRepository) FindByID(ctx context.Context, id string) (*models.Crisis, error) {
	query := fmt.Sprintf(`SELECT %s FROM crises WHERE id = $1`, crisisColumns)
	var crisis models.Crisis
	if err := r.db.GetContext(ctx, &crisis, query, id); err != nil {
		return nil, err
	}
	return &crisis, nil
}

// Assign moves a crisis to assigned and records the volunteer, guarded by
// the set of statuses from which assignment is still legal. Returns the
// updated crisis, or sql.ErrNoRows when the guard no longer matches.
func (r *CrisisRepository) Assign(ctx context.Context, id, volunteerID string, allowed []models.CrisisStatus) (*models.Crisis, error) {
	statuses := make([]string, len(allowed))
	for i, s := range allowed {
		statuses[i] = string(s)
	}
	query := fmt.Sprintf(`UPDATE crises SET status = $2, assigned_volunteer_id = $3
        WHERE id = $1 AND status = ANY($4)
        RETURNING %s`, crisisColumns)
	var crisis models.Crisis
	if err := r.db.GetContext(ctx, &crisis, query, id, models.CrisisStatusAssigned, volunteerID, pq.Array(statuses)); err != nil {
		return nil, err
	}
	return &crisis, nil
}

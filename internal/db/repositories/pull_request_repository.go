// pull_request_repository.go implements PullRequestRepository, providing
// database queries for remediation pull requests.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// PullRequestRepository handles database operations for pull request records
type PullRequestRepository struct {
	db *sqlx.DB
}

// NewPullRequestRepository creates a new pull request repository
func NewPullRequestRepository(db *sqlx.DB) *PullRequestRepository {
	return &PullRequestRepository{db: db}
}

// Create records a newly opened pull request
func (r *PullRequestRepository) Create(ctx context.Context, pr *models.PullRequestRecord) error {
	query := `
		INSERT INTO pull_request_records (
			id, incident_id, provider, repository_full_name, pr_number,
			pr_url, title, branch_name, base_branch, commit_sha,
			files_changed, state, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		pr.ID, pr.IncidentID, pr.Provider, pr.RepositoryFullName, pr.PRNumber,
		pr.PRURL, pr.Title, pr.BranchName, pr.BaseBranch, pr.CommitSHA,
		pr.FilesChanged, pr.State, pr.CreatedAt, pr.UpdatedAt,
	)
	return err
}

// GetByID retrieves a pull request record by ID
func (r *PullRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PullRequestRecord, error) {
	var pr models.PullRequestRecord
	query := `SELECT * FROM pull_request_records WHERE id = $1`
	err := r.db.GetContext(ctx, &pr, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &pr, err
}

// GetByIncident retrieves the pull request opened for an incident
func (r *PullRequestRepository) GetByIncident(ctx context.Context, incidentID uuid.UUID) (*models.PullRequestRecord, error) {
	var pr models.PullRequestRecord
	query := `SELECT * FROM pull_request_records WHERE incident_id = $1`
	err := r.db.GetContext(ctx, &pr, query, incidentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &pr, err
}

// GetByNumber retrieves a pull request record by its code-host number
func (r *PullRequestRepository) GetByNumber(ctx context.Context, provider, fullName string, number int64) (*models.PullRequestRecord, error) {
	var pr models.PullRequestRecord
	query := `SELECT * FROM pull_request_records WHERE provider = $1 AND repository_full_name = $2 AND pr_number = $3`
	err := r.db.GetContext(ctx, &pr, query, provider, fullName, number)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &pr, err
}

// ListRecent lists pull request records, newest first
func (r *PullRequestRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.PullRequestRecord, error) {
	var prs []*models.PullRequestRecord
	query := `SELECT * FROM pull_request_records ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &prs, query, limit, offset)
	return prs, err
}

// UpdateState tracks a state change reported by the code host
func (r *PullRequestRepository) UpdateState(ctx context.Context, id uuid.UUID, state string, mergedAt, closedAt *time.Time) error {
	query := `
		UPDATE pull_request_records SET
			state = $2, merged_at = $3, closed_at = $4, updated_at = $5
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, state, mergedAt, closedAt, time.Now())
	return err
}

// PRStats summarizes remediation pull requests for the stats endpoint
type PRStats struct {
	Total  int `json:"total" db:"total"`
	Open   int `json:"open" db:"open"`
	Merged int `json:"merged" db:"merged"`
	Closed int `json:"closed" db:"closed"`
}

// Stats computes pull request counts in a single aggregate query
func (r *PullRequestRepository) Stats(ctx context.Context) (*PRStats, error) {
	var stats PRStats
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE state = 'open') AS open,
			COUNT(*) FILTER (WHERE state = 'merged') AS merged,
			COUNT(*) FILTER (WHERE state = 'closed') AS closed
		FROM pull_request_records`
	err := r.db.GetContext(ctx, &stats, query)
	return &stats, err
}

// workflow_run_repository.go implements WorkflowRunRepository, providing
// database queries for tracked CI runs.
package repositories

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// WorkflowRunRepository handles database operations for workflow runs
type WorkflowRunRepository struct {
	db *sqlx.DB
}

// NewWorkflowRunRepository creates a new workflow run repository
func NewWorkflowRunRepository(db *sqlx.DB) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

// Upsert inserts a run or, when (provider, external_run_id) already exists,
// refreshes its mutable fields. Returns the canonical row, which keeps the
// original ID when the row predates this event.
func (r *WorkflowRunRepository) Upsert(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, error) {
	query := `
		INSERT INTO workflow_runs (
			id, repository_connection_id, provider, external_run_id,
			run_number, workflow_name, status, conclusion, branch,
			commit_sha, run_url, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		) ON CONFLICT (provider, external_run_id) DO UPDATE SET
			run_number = $5, workflow_name = $6, status = $7, conclusion = $8,
			branch = $9, commit_sha = $10, run_url = $11, started_at = $12,
			completed_at = $13, updated_at = $15
		RETURNING *`

	var saved models.WorkflowRun
	err := r.db.GetContext(ctx, &saved, query,
		run.ID, run.RepositoryConnectionID, run.Provider, run.ExternalRunID,
		run.RunNumber, run.WorkflowName, run.Status, run.Conclusion, run.Branch,
		run.CommitSHA, run.RunURL, run.StartedAt, run.CompletedAt,
		run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// GetByID retrieves a run by ID
func (r *WorkflowRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	query := `SELECT * FROM workflow_runs WHERE id = $1`
	err := r.db.GetContext(ctx, &run, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &run, err
}

// GetByExternalID retrieves a run by the code host's run identifier
func (r *WorkflowRunRepository) GetByExternalID(ctx context.Context, provider, externalRunID string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	query := `SELECT * FROM workflow_runs WHERE provider = $1 AND external_run_id = $2`
	err := r.db.GetContext(ctx, &run, query, provider, externalRunID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &run, err
}

// ListByConnection lists runs for a repository connection, newest first
func (r *WorkflowRunRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.WorkflowRun, error) {
	var runs []*models.WorkflowRun
	query := `SELECT * FROM workflow_runs WHERE repository_connection_id = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &runs, query, connectionID, limit)
	return runs, err
}

// ListRecent lists the most recently observed runs across all repositories
func (r *WorkflowRunRepository) ListRecent(ctx context.Context, limit int) ([]*models.WorkflowRun, error) {
	var runs []*models.WorkflowRun
	query := `SELECT * FROM workflow_runs ORDER BY created_at DESC LIMIT $1`
	err := r.db.SelectContext(ctx, &runs, query, limit)
	return runs, err
}

// RunStats summarizes tracked runs for the stats endpoint
type RunStats struct {
	TotalRuns      int `json:"total_runs" db:"total_runs"`
	FailedRuns     int `json:"failed_runs" db:"failed_runs"`
	SuccessfulRuns int `json:"successful_runs" db:"successful_runs"`
	InProgressRuns int `json:"in_progress_runs" db:"in_progress_runs"`
	Repositories   int `json:"repositories_tracked" db:"repositories_tracked"`
}

// Stats computes run counts in a single aggregate query
func (r *WorkflowRunRepository) Stats(ctx context.Context) (*RunStats, error) {
	var stats RunStats
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COUNT(*) FILTER (WHERE conclusion IN ('failure', 'timed_out')) AS failed_runs,
			COUNT(*) FILTER (WHERE conclusion = 'success') AS successful_runs,
			COUNT(*) FILTER (WHERE status IN ('queued', 'in_progress')) AS in_progress_runs,
			COUNT(DISTINCT repository_connection_id) AS repositories_tracked
		FROM workflow_runs`
	err := r.db.GetContext(ctx, &stats, query)
	return &stats, err
}

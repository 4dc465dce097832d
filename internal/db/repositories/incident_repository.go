// incident_repository.go implements IncidentRepository, providing database
// queries for the remediation lifecycle. The Claim and ExpireStale updates are
// the concurrency guards: workers race on Claim, and the sweeper reaps
// incidents a crashed worker left mid-flight.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// IncidentRepository handles database operations for incidents
type IncidentRepository struct {
	db *sqlx.DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *sqlx.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// CreateOrGet inserts an incident for a run, or returns the existing one when
// a redelivered failure event races the first. The returned incident is always
// the canonical row for the run.
func (r *IncidentRepository) CreateOrGet(ctx context.Context, inc *models.Incident) (*models.Incident, error) {
	query := `
		INSERT INTO incidents (
			id, workflow_run_id, repository_connection_id, status,
			failure_type, severity, error_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		) ON CONFLICT (workflow_run_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		inc.ID, inc.WorkflowRunID, inc.RepositoryConnectionID, inc.Status,
		inc.FailureType, inc.Severity, inc.ErrorCount, inc.CreatedAt, inc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r.GetByWorkflowRun(ctx, inc.WorkflowRunID)
}

// GetByID retrieves an incident by ID
func (r *IncidentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	var inc models.Incident
	query := `SELECT * FROM incidents WHERE id = $1`
	err := r.db.GetContext(ctx, &inc, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &inc, err
}

// GetByWorkflowRun retrieves the incident for a run
func (r *IncidentRepository) GetByWorkflowRun(ctx context.Context, runID uuid.UUID) (*models.Incident, error) {
	var inc models.Incident
	query := `SELECT * FROM incidents WHERE workflow_run_id = $1`
	err := r.db.GetContext(ctx, &inc, query, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &inc, err
}

// ListRecent lists incidents, newest first
func (r *IncidentRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.Incident, error) {
	var incs []*models.Incident
	query := `SELECT * FROM incidents ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &incs, query, limit, offset)
	return incs, err
}

// ListByStatus lists incidents in one lifecycle status, oldest first so the
// longest-waiting work is picked up first
func (r *IncidentRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*models.Incident, error) {
	var incs []*models.Incident
	query := `SELECT * FROM incidents WHERE status = $1 ORDER BY created_at ASC LIMIT $2`
	err := r.db.SelectContext(ctx, &incs, query, status, limit)
	return incs, err
}

// ListByConnection lists incidents for a repository connection, newest first
func (r *IncidentRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.Incident, error) {
	var incs []*models.Incident
	query := `SELECT * FROM incidents WHERE repository_connection_id = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &incs, query, connectionID, limit)
	return incs, err
}

// Claim moves a detected incident to analyzing. Exactly one caller wins; the
// rest see false and must leave the incident alone.
func (r *IncidentRepository) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE incidents SET
			status = $2, attempt_count = attempt_count + 1,
			last_attempt_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4`

	res, err := r.db.ExecContext(ctx, query, id, models.IncidentAnalyzing, time.Now(), models.IncidentDetected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetAnalysis records what the log analysis found
func (r *IncidentRepository) SetAnalysis(ctx context.Context, id uuid.UUID, failureType, severity string, errorCount int, summary *string) error {
	query := `
		UPDATE incidents SET
			failure_type = $2, severity = $3, error_count = $4,
			analysis_summary = $5, updated_at = $6
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, failureType, severity, errorCount, summary, time.Now())
	return err
}

// SetStatus moves an incident to a new lifecycle status
func (r *IncidentRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE incidents SET status = $2, updated_at = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status, time.Now())
	return err
}

// SetFailure marks an incident failed or skipped with the reason code from
// the error taxonomy and an optional human-readable detail
func (r *IncidentRepository) SetFailure(ctx context.Context, id uuid.UUID, status, reason string, detail *string) error {
	query := `
		UPDATE incidents SET
			status = $2, failure_reason = $3, failure_detail = $4, updated_at = $5
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, status, reason, detail, time.Now())
	return err
}

// ExpireStale fails incidents stuck in analyzing or remediating since before
// the cutoff. These are incidents whose worker died mid-flight.
func (r *IncidentRepository) ExpireStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `
		UPDATE incidents SET
			status = $2, failure_reason = $3, updated_at = $4
		WHERE status IN ($5, $6) AND last_attempt_at < $1`

	res, err := r.db.ExecContext(ctx, query,
		cutoff, models.IncidentFailed, reason, time.Now(),
		models.IncidentAnalyzing, models.IncidentRemediating,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StatusCounts returns incident counts grouped by lifecycle status
func (r *IncidentRepository) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM incidents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// repository_connection_repository.go implements RepositoryConnectionRepository,
// providing database queries for monitored repositories and their webhook
// registration state.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// RepositoryConnectionRepository handles database operations for repository connections
type RepositoryConnectionRepository struct {
	db *sqlx.DB
}

// NewRepositoryConnectionRepository creates a new repository connection repository
func NewRepositoryConnectionRepository(db *sqlx.DB) *RepositoryConnectionRepository {
	return &RepositoryConnectionRepository{db: db}
}

// Create creates a new repository connection
func (r *RepositoryConnectionRepository) Create(ctx context.Context, rc *models.RepositoryConnection) error {
	query := `
		INSERT INTO repository_connections (
			id, user_id, oauth_connection_id, provider, external_repo_id,
			repository_full_name, default_branch, webhook_id, webhook_url,
			webhook_secret_encrypted, webhook_status, events, is_enabled,
			auto_pr_enabled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)`

	status := rc.WebhookStatus
	if status == "" {
		status = models.WebhookInactive
	}
	_, err := r.db.ExecContext(ctx, query,
		rc.ID, rc.UserID, rc.OAuthConnectionID, rc.Provider, rc.ExternalRepoID,
		rc.RepositoryFullName, rc.DefaultBranch, rc.WebhookID, rc.WebhookURL,
		rc.WebhookSecretEncrypted, status, pq.Array([]string(rc.Events)), rc.IsEnabled,
		rc.AutoPREnabled, rc.CreatedAt, rc.UpdatedAt,
	)
	return err
}

// GetByID retrieves a repository connection by ID
func (r *RepositoryConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.RepositoryConnection, error) {
	var rc models.RepositoryConnection
	query := `SELECT * FROM repository_connections WHERE id = $1`
	err := r.db.GetContext(ctx, &rc, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &rc, err
}

// ListByFullName lists every connection for a repository full name. Webhook
// ingest resolves deliveries this way; more than one user may have connected
// the same repository, so the caller checks the delivery signature against
// each candidate's secret.
func (r *RepositoryConnectionRepository) ListByFullName(ctx context.Context, provider, fullName string) ([]*models.RepositoryConnection, error) {
	var rcs []*models.RepositoryConnection
	query := `SELECT * FROM repository_connections WHERE provider = $1 AND repository_full_name = $2 ORDER BY created_at`
	err := r.db.SelectContext(ctx, &rcs, query, provider, fullName)
	return rcs, err
}

// GetByUserFullName retrieves a user's connection for a repository full name
func (r *RepositoryConnectionRepository) GetByUserFullName(ctx context.Context, userID, fullName string) (*models.RepositoryConnection, error) {
	var rc models.RepositoryConnection
	query := `SELECT * FROM repository_connections WHERE user_id = $1 AND repository_full_name = $2`
	err := r.db.GetContext(ctx, &rc, query, userID, fullName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &rc, err
}

// ListByUser lists a user's repository connections, newest first
func (r *RepositoryConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*models.RepositoryConnection, error) {
	var rcs []*models.RepositoryConnection
	query := `SELECT * FROM repository_connections WHERE user_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &rcs, query, userID)
	return rcs, err
}

// ListByOAuthConnection lists connections created through one OAuth account
func (r *RepositoryConnectionRepository) ListByOAuthConnection(ctx context.Context, oauthConnectionID uuid.UUID) ([]*models.RepositoryConnection, error) {
	var rcs []*models.RepositoryConnection
	query := `SELECT * FROM repository_connections WHERE oauth_connection_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &rcs, query, oauthConnectionID)
	return rcs, err
}

// UpdateSettings applies a partial settings update. Nil fields keep their
// current value.
func (r *RepositoryConnectionRepository) UpdateSettings(ctx context.Context, id uuid.UUID, isEnabled, autoPREnabled *bool) error {
	query := `
		UPDATE repository_connections SET
			is_enabled = COALESCE($2, is_enabled),
			auto_pr_enabled = COALESCE($3, auto_pr_enabled),
			updated_at = $4
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, isEnabled, autoPREnabled, time.Now())
	return err
}

// SetWebhook records the code host's webhook registration for the connection:
// the hook's identifier, callback URL, sealed secret, lifecycle status, and
// subscribed event types. Clearing a hook passes nil pointers with the
// inactive or failed status.
func (r *RepositoryConnectionRepository) SetWebhook(ctx context.Context, id uuid.UUID, webhookID, webhookURL, secretEncrypted *string, status string, events []string) error {
	query := `
		UPDATE repository_connections SET
			webhook_id = $2, webhook_url = $3, webhook_secret_encrypted = $4,
			webhook_status = $5, events = $6, updated_at = $7
		WHERE id = $1`

	if events == nil {
		events = []string{}
	}
	_, err := r.db.ExecContext(ctx, query, id, webhookID, webhookURL, secretEncrypted, status, pq.Array(events), time.Now())
	return err
}

// TouchLastEvent records the arrival time of the latest webhook delivery
func (r *RepositoryConnectionRepository) TouchLastEvent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE repository_connections SET last_event_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// Delete removes a repository connection and its tracked runs and incidents
func (r *RepositoryConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM repository_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

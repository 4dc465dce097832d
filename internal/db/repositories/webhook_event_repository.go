// webhook_event_repository.go implements WebhookEventRepository, providing
// database queries for the webhook delivery ledger.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// WebhookEventRepository handles database operations for webhook events
type WebhookEventRepository struct {
	db *sqlx.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *sqlx.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Insert records a delivery. It returns false when the (provider, delivery_id)
// pair was already recorded, which means the delivery is a redelivery and must
// not be processed again.
func (r *WebhookEventRepository) Insert(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (
			id, repository_connection_id, provider, event_type, delivery_id,
			payload, status, received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (provider, delivery_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		ev.ID, ev.RepositoryConnectionID, ev.Provider, ev.EventType, ev.DeliveryID,
		ev.Payload, ev.Status, ev.ReceivedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// GetByID retrieves a webhook event by ID
func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	query := `SELECT * FROM webhook_events WHERE id = $1`
	err := r.db.GetContext(ctx, &ev, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ev, err
}

// MarkProcessed records the outcome of handling a delivery
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, status string, errMsg *string) error {
	query := `
		UPDATE webhook_events SET
			status = $2, error = $3, processed_at = $4
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, status, errMsg, time.Now())
	return err
}

// ListByConnection lists deliveries for a repository connection, newest first
func (r *WebhookEventRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.WebhookEvent, error) {
	var events []*models.WebhookEvent
	query := `SELECT * FROM webhook_events WHERE repository_connection_id = $1 ORDER BY received_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &events, query, connectionID, limit)
	return events, err
}

// PruneOlderThan deletes deliveries received before the cutoff and returns
// how many rows were removed
func (r *WebhookEventRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM webhook_events WHERE received_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

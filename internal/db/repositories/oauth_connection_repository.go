// oauth_connection_repository.go implements OAuthConnectionRepository,
// providing database queries for authorized code-host accounts and their
// sealed token material.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/devflowfix/devflowfix/internal/db/models"
)

// OAuthConnectionRepository handles database operations for OAuth connections
type OAuthConnectionRepository struct {
	db *sqlx.DB
}

// NewOAuthConnectionRepository creates a new OAuth connection repository
func NewOAuthConnectionRepository(db *sqlx.DB) *OAuthConnectionRepository {
	return &OAuthConnectionRepository{db: db}
}

// Save creates a connection or, when the same user re-authorizes the same
// provider, refreshes its token material and reactivates it.
func (r *OAuthConnectionRepository) Save(ctx context.Context, conn *models.OAuthConnection) error {
	query := `
		INSERT INTO oauth_connections (
			id, user_id, provider, provider_user_id, provider_username,
			access_token_encrypted, refresh_token_encrypted, token_type,
			scopes, expires_at, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		) ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = $4, provider_username = $5,
			access_token_encrypted = $6, refresh_token_encrypted = $7,
			token_type = $8, scopes = $9, expires_at = $10, is_active = $11,
			updated_at = $13`

	_, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.UserID, conn.Provider, conn.ProviderUserID, conn.ProviderUsername,
		conn.AccessTokenEncrypted, conn.RefreshTokenEncrypted, conn.TokenType,
		conn.Scopes, conn.ExpiresAt, conn.IsActive, conn.CreatedAt, conn.UpdatedAt,
	)
	return err
}

// GetByID retrieves a connection by ID
func (r *OAuthConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.OAuthConnection, error) {
	var conn models.OAuthConnection
	query := `SELECT * FROM oauth_connections WHERE id = $1`
	err := r.db.GetContext(ctx, &conn, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &conn, err
}

// GetByProviderAccount retrieves the connection for a provider account
func (r *OAuthConnectionRepository) GetByProviderAccount(ctx context.Context, provider, providerUserID string) (*models.OAuthConnection, error) {
	var conn models.OAuthConnection
	query := `SELECT * FROM oauth_connections WHERE provider = $1 AND provider_user_id = $2`
	err := r.db.GetContext(ctx, &conn, query, provider, providerUserID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &conn, err
}

// GetByUserProvider retrieves a user's connection for one provider
func (r *OAuthConnectionRepository) GetByUserProvider(ctx context.Context, userID, provider string) (*models.OAuthConnection, error) {
	var conn models.OAuthConnection
	query := `SELECT * FROM oauth_connections WHERE user_id = $1 AND provider = $2`
	err := r.db.GetContext(ctx, &conn, query, userID, provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &conn, err
}

// ListByUser lists a user's connections, newest first
func (r *OAuthConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*models.OAuthConnection, error) {
	var conns []*models.OAuthConnection
	query := `SELECT * FROM oauth_connections WHERE user_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &conns, query, userID)
	return conns, err
}

// UpdateTokens replaces the sealed token material after a refresh
func (r *OAuthConnectionRepository) UpdateTokens(ctx context.Context, id uuid.UUID, accessEncrypted string, refreshEncrypted *string, expiresAt *time.Time) error {
	query := `
		UPDATE oauth_connections SET
			access_token_encrypted = $2, refresh_token_encrypted = $3,
			expires_at = $4, updated_at = $5
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, accessEncrypted, refreshEncrypted, expiresAt, time.Now())
	return err
}

// TouchLastUsed records that the connection's credentials were just used
func (r *OAuthConnectionRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE oauth_connections SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// Deactivate marks a connection inactive without destroying its history
func (r *OAuthConnectionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE oauth_connections SET is_active = false, updated_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, time.Now())
	return err
}

// Delete removes a connection and, via cascade, everything attached to it
func (r *OAuthConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM oauth_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

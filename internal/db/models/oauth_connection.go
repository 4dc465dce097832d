// oauth_connection.go defines the OAuthConnection model, one row per code-host
// account that authorized the service. Token columns hold key-id envelopes from
// the token cipher; the raw credentials never reach the database or the API.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// OAuthConnection is an authorized code-host account
type OAuthConnection struct {
	ID                    uuid.UUID      `json:"id" db:"id"`
	UserID                string         `json:"user_id" db:"user_id"`
	Provider              string         `json:"provider" db:"provider"`
	ProviderUserID        string         `json:"provider_user_id" db:"provider_user_id"`
	ProviderUsername      string         `json:"provider_username" db:"provider_username"`
	AccessTokenEncrypted  string         `json:"-" db:"access_token_encrypted"`
	RefreshTokenEncrypted *string        `json:"-" db:"refresh_token_encrypted"`
	TokenType             string         `json:"token_type" db:"token_type"`
	Scopes                pq.StringArray `json:"scopes" db:"scopes"`
	ExpiresAt             *time.Time     `json:"expires_at,omitempty" db:"expires_at"`
	IsActive              bool           `json:"is_active" db:"is_active"`
	LastUsedAt            *time.Time     `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt             time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at" db:"updated_at"`
}

// repository_connection.go defines the RepositoryConnection model for
// repositories monitored by the service.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Webhook registration states for a connection. A failed install leaves the
// connection monitorable through polling but without deliveries.
const (
	WebhookActive   = "active"
	WebhookInactive = "inactive"
	WebhookFailed   = "failed"
)

// RepositoryConnection is a repository wired up for failure monitoring.
// WebhookID is the code host's identifier for the hook registered on connect;
// the webhook shared secret is sealed the same way as OAuth tokens. Events
// holds the event types the hook is subscribed to.
type RepositoryConnection struct {
	ID                     uuid.UUID      `json:"id" db:"id"`
	UserID                 string         `json:"user_id" db:"user_id"`
	OAuthConnectionID      uuid.UUID      `json:"oauth_connection_id" db:"oauth_connection_id"`
	Provider               string         `json:"provider" db:"provider"`
	ExternalRepoID         string         `json:"external_repo_id" db:"external_repo_id"`
	RepositoryFullName     string         `json:"repository_full_name" db:"repository_full_name"`
	DefaultBranch          string         `json:"default_branch" db:"default_branch"`
	WebhookID              *string        `json:"webhook_id,omitempty" db:"webhook_id"`
	WebhookURL             *string        `json:"webhook_url,omitempty" db:"webhook_url"`
	WebhookSecretEncrypted *string        `json:"-" db:"webhook_secret_encrypted"`
	WebhookStatus          string         `json:"webhook_status" db:"webhook_status"`
	Events                 pq.StringArray `json:"events" db:"events"`
	IsEnabled              bool           `json:"is_enabled" db:"is_enabled"`
	AutoPREnabled          bool           `json:"auto_pr_enabled" db:"auto_pr_enabled"`
	LastEventAt            *time.Time     `json:"last_event_at,omitempty" db:"last_event_at"`
	CreatedAt              time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at" db:"updated_at"`
}

// OwnerAndName splits the stored full name into its owner and repository
// parts. The full name is validated on connect, so a malformed value here
// yields empty strings rather than an error.
func (rc *RepositoryConnection) OwnerAndName() (owner, name string) {
	owner, name, ok := strings.Cut(rc.RepositoryFullName, "/")
	if !ok {
		return "", ""
	}
	return owner, name
}

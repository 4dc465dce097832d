// webhook_manager.go owns the webhook lifecycle on monitored repositories.
// Every install mints a fresh shared secret; the secret is stored sealed and
// only ever compared against delivery signatures, never returned by the API.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/config"
	"github.com/devflowfix/devflowfix/internal/crypto"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/scm"
)

// webhookConnectionStore is the slice of RepositoryConnectionRepository the
// manager writes through
type webhookConnectionStore interface {
	SetWebhook(ctx context.Context, id uuid.UUID, webhookID, webhookURL, secretEncrypted *string, status string, events []string) error
}

// WebhookManager installs and removes delivery hooks on code-host repositories
type WebhookManager struct {
	cfg   *config.Config
	conns webhookConnectionStore
	keys  *crypto.Keyring
}

// NewWebhookManager creates the manager
func NewWebhookManager(cfg *config.Config, conns webhookConnectionStore, keys *crypto.Keyring) *WebhookManager {
	return &WebhookManager{cfg: cfg, conns: conns, keys: keys}
}

// Install registers a hook on the repository pointing at the ingest endpoint
// for the connection's provider, subscribed to the given event types (nil
// means the provider defaults). A fresh secret is generated per install; when
// registration fails no secret is stored and the connection's webhook status
// moves to failed, so the connection stays hook-less rather than holding a
// secret no hook uses.
func (m *WebhookManager) Install(ctx context.Context, connector scm.Connector, creds *scm.AccessToken, rc *models.RepositoryConnection, events []string) error {
	owner, name := rc.OwnerAndName()
	if owner == "" {
		return fmt.Errorf("malformed repository full name: %q", rc.RepositoryFullName)
	}

	secret, err := crypto.GenerateWebhookSecret()
	if err != nil {
		return fmt.Errorf("generate webhook secret: %w", err)
	}

	hook, err := connector.RegisterWebhook(ctx, creds, owner, name, scm.WebhookSetup{
		CallbackURL:   m.cfg.IngestURL(rc.Provider),
		SharedSecret:  secret,
		EventTypes:    events,
		ActiveOnSetup: true,
	})
	if err != nil {
		m.markFailed(ctx, rc)
		return fmt.Errorf("register webhook: %w", err)
	}

	sealed, err := m.keys.Seal(secret)
	if err != nil {
		// The remote hook exists but we cannot remember its secret; tear it
		// down again so deliveries are not permanently unverifiable.
		if rerr := connector.RemoveWebhook(ctx, creds, owner, name, hook.ExternalID); rerr != nil {
			slog.Warn("webhook rollback failed", "repository", rc.RepositoryFullName, "error", rerr)
		}
		m.markFailed(ctx, rc)
		return fmt.Errorf("seal webhook secret: %w", err)
	}

	if err := m.conns.SetWebhook(ctx, rc.ID, &hook.ExternalID, &hook.CallbackURL, &sealed, models.WebhookActive, hook.EventTypes); err != nil {
		return fmt.Errorf("record webhook registration: %w", err)
	}

	rc.WebhookID = &hook.ExternalID
	rc.WebhookURL = &hook.CallbackURL
	rc.WebhookSecretEncrypted = &sealed
	rc.WebhookStatus = models.WebhookActive
	rc.Events = hook.EventTypes
	slog.Info("webhook installed", "provider", rc.Provider, "repository", rc.RepositoryFullName, "hook_id", hook.ExternalID)
	return nil
}

// Remove deletes the hook from the repository and clears the local
// registration, leaving the webhook status inactive. The remote delete is
// best effort: a hook that is already gone (or a code host that is down) must
// not block disconnecting the repository.
func (m *WebhookManager) Remove(ctx context.Context, connector scm.Connector, creds *scm.AccessToken, rc *models.RepositoryConnection) error {
	if rc.WebhookID != nil {
		owner, name := rc.OwnerAndName()
		err := connector.RemoveWebhook(ctx, creds, owner, name, *rc.WebhookID)
		if err != nil && !errors.Is(err, scm.ErrNotFound) {
			slog.Warn("remote webhook removal failed",
				"provider", rc.Provider, "repository", rc.RepositoryFullName, "error", err)
		}
	}
	if err := m.conns.SetWebhook(ctx, rc.ID, nil, nil, nil, models.WebhookInactive, nil); err != nil {
		return err
	}
	rc.WebhookID = nil
	rc.WebhookURL = nil
	rc.WebhookSecretEncrypted = nil
	rc.WebhookStatus = models.WebhookInactive
	rc.Events = nil
	return nil
}

// markFailed records a failed webhook install on the connection. Best effort;
// the install error is what the caller reports.
func (m *WebhookManager) markFailed(ctx context.Context, rc *models.RepositoryConnection) {
	if err := m.conns.SetWebhook(ctx, rc.ID, nil, nil, nil, models.WebhookFailed, nil); err != nil {
		slog.Warn("recording failed webhook install failed",
			"repository", rc.RepositoryFullName, "error", err)
		return
	}
	rc.WebhookStatus = models.WebhookFailed
}

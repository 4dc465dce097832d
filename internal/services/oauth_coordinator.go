// oauth_coordinator.go drives the three-legged OAuth flow that links a
// code-host account to a user: redirect out with a single-use state token,
// exchange the code on the way back, and persist only sealed token material.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/devflowfix/devflowfix/internal/crypto"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/oauthstate"
	"github.com/devflowfix/devflowfix/internal/scm"
)

// oauthConnectionStore is the slice of OAuthConnectionRepository the
// coordinator uses
type oauthConnectionStore interface {
	Save(ctx context.Context, conn *models.OAuthConnection) error
	GetByUserProvider(ctx context.Context, userID, provider string) (*models.OAuthConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*models.OAuthConnection, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// OAuthCoordinator owns the account-linking flow for all providers
type OAuthCoordinator struct {
	conns      oauthConnectionStore
	states     oauthstate.Store
	keys       *crypto.Keyring
	connectors connectorSource
}

// NewOAuthCoordinator creates the coordinator
func NewOAuthCoordinator(conns oauthConnectionStore, states oauthstate.Store, keys *crypto.Keyring, connectors connectorSource) *OAuthCoordinator {
	return &OAuthCoordinator{conns: conns, states: states, keys: keys, connectors: connectors}
}

// Begin mints a state token bound to the user and returns the provider's
// authorization URL to redirect them to.
func (c *OAuthCoordinator) Begin(ctx context.Context, userID, provider, redirectTo string) (string, error) {
	connector, err := c.connectors.For(provider)
	if err != nil {
		return "", err
	}

	state, err := oauthstate.NewToken()
	if err != nil {
		return "", fmt.Errorf("mint state token: %w", err)
	}
	payload := oauthstate.Payload{UserID: userID, Provider: provider, RedirectTo: redirectTo}
	if err := c.states.Put(ctx, state, payload); err != nil {
		return "", fmt.Errorf("store state token: %w", err)
	}

	return connector.AuthorizationEndpoint(state, c.connectors.Scopes(provider)), nil
}

// Complete finishes the flow on the callback: the state token is consumed
// (single use), the code is exchanged, the account identity is fetched, and
// the sealed connection is saved. If the identity fetch or the save fails the
// fresh token is revoked on the code host so no orphaned grant survives.
func (c *OAuthCoordinator) Complete(ctx context.Context, userID, provider, code, state string) (*models.OAuthConnection, error) {
	payload, err := c.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if payload.UserID != userID || payload.Provider != provider {
		return nil, ErrStateMismatch
	}

	connector, err := c.connectors.For(provider)
	if err != nil {
		return nil, err
	}

	token, err := connector.CompleteAuthorization(ctx, code)
	if err != nil {
		return nil, err
	}

	viewer, err := connector.FetchViewer(ctx, token)
	if err != nil {
		c.revokeQuietly(ctx, connector, token)
		return nil, fmt.Errorf("fetch account identity: %w", err)
	}

	sealedAccess, err := c.keys.Seal(token.AccessToken)
	if err != nil {
		c.revokeQuietly(ctx, connector, token)
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	var sealedRefresh *string
	if token.RefreshToken != "" {
		s, err := c.keys.Seal(token.RefreshToken)
		if err != nil {
			c.revokeQuietly(ctx, connector, token)
			return nil, fmt.Errorf("seal refresh token: %w", err)
		}
		sealedRefresh = &s
	}

	now := time.Now()
	conn := &models.OAuthConnection{
		ID:                    uuid.New(),
		UserID:                userID,
		Provider:              provider,
		ProviderUserID:        viewer.ExternalID,
		ProviderUsername:      viewer.Login,
		AccessTokenEncrypted:  sealedAccess,
		RefreshTokenEncrypted: sealedRefresh,
		TokenType:             token.TokenType,
		Scopes:                pq.StringArray(token.Scopes),
		ExpiresAt:             token.ExpiresAt,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := c.conns.Save(ctx, conn); err != nil {
		c.revokeQuietly(ctx, connector, token)
		return nil, fmt.Errorf("save connection: %w", err)
	}

	// Re-read the canonical row: a re-authorization keeps the original ID.
	saved, err := c.conns.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	slog.Info("oauth connection established",
		"provider", provider, "provider_username", viewer.Login)
	return saved, nil
}

// Disconnect revokes the grant on the code host (best effort) and removes the
// connection locally. Local removal is the durable outcome: a failed remote
// revocation is logged, never surfaced.
func (c *OAuthCoordinator) Disconnect(ctx context.Context, userID, provider string) error {
	conn, err := c.conns.GetByUserProvider(ctx, userID, provider)
	if err != nil {
		return err
	}
	if conn == nil {
		return ErrNotConnected
	}

	if access, err := c.keys.Open(conn.AccessTokenEncrypted); err == nil && access != "" {
		if connector, cerr := c.connectors.For(provider); cerr == nil {
			c.revokeQuietly(ctx, connector, &scm.AccessToken{AccessToken: access})
		}
	}

	return c.conns.Delete(ctx, conn.ID)
}

// List returns the user's code-host connections, newest first. Token material
// stays sealed and is excluded from the JSON shape by the model tags.
func (c *OAuthCoordinator) List(ctx context.Context, userID string) ([]*models.OAuthConnection, error) {
	return c.conns.ListByUser(ctx, userID)
}

func (c *OAuthCoordinator) revokeQuietly(ctx context.Context, connector scm.Connector, token *scm.AccessToken) {
	if err := connector.RevokeToken(ctx, token); err != nil {
		slog.Warn("best-effort token revocation failed",
			"provider", connector.Platform().String(), "error", err)
	}
}

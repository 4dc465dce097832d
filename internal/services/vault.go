// vault.go resolves stored OAuth connections into usable credentials and
// writes refreshed token material back. It is the only place where sealed
// tokens leave the database and become plaintext, and the plaintext never
// travels further than the connector call that needs it.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/crypto"
	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/scm"
)

// vaultConnectionStore is the slice of OAuthConnectionRepository the vault uses
type vaultConnectionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.OAuthConnection, error)
	UpdateTokens(ctx context.Context, id uuid.UUID, accessEncrypted string, refreshEncrypted *string, expiresAt *time.Time) error
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// TokenVault unseals persisted OAuth credentials for provider calls
type TokenVault struct {
	conns vaultConnectionStore
	keys  *crypto.Keyring
}

// NewTokenVault creates a vault over the connection store and keyring
func NewTokenVault(conns vaultConnectionStore, keys *crypto.Keyring) *TokenVault {
	return &TokenVault{conns: conns, keys: keys}
}

// CredentialsFor unseals the token material for an OAuth connection. Inactive
// and missing connections both come back as ErrNotConnected: either way the
// user must re-authorize before provider calls can proceed.
func (v *TokenVault) CredentialsFor(ctx context.Context, oauthConnectionID uuid.UUID) (*scm.AccessToken, *models.OAuthConnection, error) {
	conn, err := v.conns.GetByID(ctx, oauthConnectionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load oauth connection: %w", err)
	}
	if conn == nil || !conn.IsActive {
		return nil, nil, ErrNotConnected
	}

	access, err := v.keys.Open(conn.AccessTokenEncrypted)
	if err != nil {
		return nil, nil, fmt.Errorf("unseal access token: %w", err)
	}
	var refresh string
	if conn.RefreshTokenEncrypted != nil {
		if refresh, err = v.keys.Open(*conn.RefreshTokenEncrypted); err != nil {
			return nil, nil, fmt.Errorf("unseal refresh token: %w", err)
		}
	}

	_ = v.conns.TouchLastUsed(ctx, conn.ID)

	return &scm.AccessToken{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    conn.TokenType,
		ExpiresAt:    conn.ExpiresAt,
		Scopes:       conn.Scopes,
	}, conn, nil
}

// Refresh exchanges the refresh token for new credentials and persists the
// sealed result, so the next CredentialsFor call sees the renewed material.
// GitHub OAuth tokens never expire and never reach this path; GitLab tokens
// are refreshed lazily when a call comes back unauthorized.
func (v *TokenVault) Refresh(ctx context.Context, conn *models.OAuthConnection, connector scm.Connector, creds *scm.AccessToken) (*scm.AccessToken, error) {
	if creds.RefreshToken == "" {
		return nil, scm.ErrNoRefreshToken
	}

	renewed, err := connector.RenewToken(ctx, creds.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("renew token: %w", err)
	}

	sealedAccess, err := v.keys.Seal(renewed.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("seal access token: %w", err)
	}
	var sealedRefresh *string
	if renewed.RefreshToken != "" {
		s, err := v.keys.Seal(renewed.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("seal refresh token: %w", err)
		}
		sealedRefresh = &s
	}

	if err := v.conns.UpdateTokens(ctx, conn.ID, sealedAccess, sealedRefresh, renewed.ExpiresAt); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}
	return renewed, nil
}
